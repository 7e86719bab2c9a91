package salon

// Service is a bookable salon service from the catalogue.
type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
}

// TotalDuration sums service durations in minutes.
func TotalDuration(services []Service) int {
	total := 0
	for _, s := range services {
		total += s.DurationMinutes
	}
	return total
}
