package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Provider links: one row per (user, provider, instance). Holds encrypted
-- credentials and OAuth tokens; the only table containing secret material.
CREATE TABLE IF NOT EXISTS provider_links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,

    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    instance_id TEXT NOT NULL DEFAULT '',

    -- Provider-side identity
    external_user_id TEXT,

    -- Encrypted credential material (vault blobs)
    client_id_enc TEXT,
    client_secret_enc TEXT,
    access_token_enc TEXT,
    refresh_token_enc TEXT,
    token_expires_at INTEGER,

    -- Ephemeral anti-CSRF nonce for the OAuth flow
    oauth_state TEXT,

    -- State tracking
    is_active BOOLEAN NOT NULL DEFAULT 0,
    last_sync_at INTEGER,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    UNIQUE(user_id, provider, instance_id)
);

-- Canonical exercise definitions, attributed to the provider that
-- introduced them. source_type_id is the provider's native activity type.
CREATE TABLE IF NOT EXISTS exercise_definitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    source TEXT NOT NULL,
    source_type_id TEXT,
    calories_per_hour REAL NOT NULL DEFAULT 300,
    created_at INTEGER NOT NULL
);

-- Canonical workout/activity entries. (entry_source, source_id) is the
-- natural key used for idempotent delete-and-replace.
CREATE TABLE IF NOT EXISTS exercise_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    definition_id INTEGER NOT NULL,
    entry_date TEXT NOT NULL,        -- YYYY-MM-DD
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    calories REAL,
    distance_km REAL,
    avg_heart_rate INTEGER,
    notes TEXT,
    entry_source TEXT NOT NULL,
    source_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (definition_id) REFERENCES exercise_definitions(id),
    UNIQUE(user_id, entry_source, source_id)
);

-- Check-in body measurements, one row per (user, date), latest wins.
CREATE TABLE IF NOT EXISTS measurements (
    user_id TEXT NOT NULL,
    m_date TEXT NOT NULL,            -- YYYY-MM-DD
    weight_kg REAL,
    height_cm REAL,
    body_fat_pct REAL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, m_date)
);

-- Free-form measurements keyed by category name + date + hour.
-- hour = -1 means no hour component.
CREATE TABLE IF NOT EXISTS custom_measurements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    category TEXT NOT NULL,
    m_date TEXT NOT NULL,            -- YYYY-MM-DD
    hour INTEGER NOT NULL DEFAULT -1,
    value REAL,
    text_value TEXT,
    source TEXT,
    updated_at INTEGER NOT NULL,

    UNIQUE(user_id, category, m_date, hour)
);

-- Nightly sleep summaries, upserted by date.
CREATE TABLE IF NOT EXISTS sleep_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    sleep_date TEXT NOT NULL,        -- YYYY-MM-DD
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    bed_time INTEGER,                -- Unix timestamp
    wake_time INTEGER,               -- Unix timestamp
    source TEXT,
    updated_at INTEGER NOT NULL,

    UNIQUE(user_id, sleep_date)
);

-- Ordered stage intervals per night, replaced in full with the summary.
CREATE TABLE IF NOT EXISTS sleep_stages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sleep_entry_id INTEGER NOT NULL,
    stage TEXT NOT NULL,             -- awake/light/deep/rem
    start_at INTEGER NOT NULL,       -- Unix timestamp
    end_at INTEGER NOT NULL,         -- Unix timestamp

    FOREIGN KEY (sleep_entry_id) REFERENCES sleep_entries(id) ON DELETE CASCADE
);

-- Diagnostic raw bundles: per (user, provider) map from data-type key to
-- the most recent captured payload. Merged per key, never replaced whole.
CREATE TABLE IF NOT EXISTS raw_bundles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    data_key TEXT NOT NULL,
    payload TEXT NOT NULL,           -- JSON
    captured_at INTEGER NOT NULL,

    UNIQUE(user_id, provider, data_key)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_provider_links_user ON provider_links(user_id);
CREATE INDEX IF NOT EXISTS idx_provider_links_state ON provider_links(oauth_state) WHERE oauth_state IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_exercise_definitions_source ON exercise_definitions(source, source_type_id);
CREATE INDEX IF NOT EXISTS idx_exercise_definitions_name ON exercise_definitions(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_exercise_entries_user_date ON exercise_entries(user_id, entry_date);
CREATE INDEX IF NOT EXISTS idx_exercise_entries_source ON exercise_entries(user_id, entry_source, entry_date);
CREATE INDEX IF NOT EXISTS idx_custom_measurements_user_date ON custom_measurements(user_id, m_date);
CREATE INDEX IF NOT EXISTS idx_sleep_entries_user_date ON sleep_entries(user_id, sleep_date);
CREATE INDEX IF NOT EXISTS idx_sleep_stages_entry ON sleep_stages(sleep_entry_id);
CREATE INDEX IF NOT EXISTS idx_raw_bundles_user_provider ON raw_bundles(user_id, provider);
`
