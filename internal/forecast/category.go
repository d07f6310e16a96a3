package forecast

// Category is an AQI severity band with its public health advice.
type Category struct {
	Name   string
	Max    int
	Advice string
}

var categories = []Category{
	{Name: "Good", Max: 50, Advice: "Air quality is satisfactory, enjoy outdoor activities"},
	{Name: "Moderate", Max: 100, Advice: "Acceptable air quality for most people"},
	{Name: "Unhealthy for Sensitive Groups", Max: 150, Advice: "Reduce prolonged outdoor exertion"},
	{Name: "Unhealthy", Max: 200, Advice: "Everyone should reduce outdoor activity"},
	{Name: "Very Unhealthy", Max: 300, Advice: "Avoid outdoor activities"},
}

var hazardous = Category{Name: "Hazardous", Max: MaxAQI, Advice: "Stay indoors, health alert"}

// CategoryFor returns the band an AQI value falls in. Band upper bounds are
// inclusive; anything above 300 is hazardous.
func CategoryFor(aqi int) Category {
	for _, c := range categories {
		if aqi <= c.Max {
			return c
		}
	}
	return hazardous
}
