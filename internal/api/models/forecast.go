package models

// Location is a registry location.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// LocationList is the response for GET /v1/locations.
type LocationList struct {
	Items []Location `json:"items"`
}

// HistoryPoint is one stored daily value a forecast was computed from.
type HistoryPoint struct {
	Date   Date   `json:"date"`
	AQI    int    `json:"aqi"`
	Source string `json:"source"`
}

// CurrentReading is today's live value for the forecast location.
type CurrentReading struct {
	AQI    int    `json:"aqi"`
	Source string `json:"source"`
	Date   Date   `json:"date"`
}

// Forecast is the next-day AQI forecast for one location.
type Forecast struct {
	Location            Location        `json:"location"`
	PredictedNextDayAQI int             `json:"predictedNextDayAqi"`
	Method              string          `json:"method"`
	Category            string          `json:"category"`
	HealthAdvice        string          `json:"healthAdvice"`
	History             []HistoryPoint  `json:"history"`
	Current             *CurrentReading `json:"current,omitempty"`

	// RequestedPoint echoes the coordinates a coordinate forecast was asked for.
	RequestedPoint *Point `json:"requestedPoint,omitempty"`
}
