package normalize

// Where a measurement lands in canonical storage
type checkinField int

const (
	fieldNone checkinField = iota
	fieldWeight
	fieldHeight
	fieldBodyFat
)

// measurementMapping routes a provider metric code either into a
// check-in field or a named custom category
type measurementMapping struct {
	checkin  checkinField
	category string
	convert  func(float64) float64
}

// dailyMapping routes a daily activity code into a custom category
type dailyMapping struct {
	category string
	convert  func(float64) float64
}

func metersToKm(v float64) float64 { return v / 1000 }

// Per-provider metric vocabulary. Codes absent here are logged and
// skipped during normalization, never fatal.
var measurementMappings = map[string]map[string]measurementMapping{
	"fitbit": {
		"weight": {checkin: fieldWeight},
		"fat":    {checkin: fieldBodyFat},
		"height": {checkin: fieldHeight},
	},
}

var dailyMappings = map[string]map[string]dailyMapping{
	"fitbit": {
		"steps":               {category: "Steps"},
		"floors":              {category: "Floors Climbed"},
		"sedentary_minutes":   {category: "Sedentary Minutes"},
		"very_active_minutes": {category: "Active Minutes"},
		"resting_heart_rate":  {category: "Resting Heart Rate"},
	},
	"polar": {
		"active_steps":    {category: "Steps"},
		"calories":        {category: "Calories Burned"},
		"active_calories": {category: "Active Calories"},
		"distance":        {category: "Distance (km)", convert: metersToKm},
	},
}
