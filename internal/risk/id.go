package risk

import "github.com/google/uuid"

func uuidString() string {
	return uuid.New().String()
}
