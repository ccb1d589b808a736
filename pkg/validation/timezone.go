package validation

import "time"

func loadLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}
