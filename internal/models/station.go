package models

import "slices"

// Station is a charging location with a fixed number of slots.
type Station struct {
	ID          string   `json:"stationId" bson:"_id"`
	Name        string   `json:"name" bson:"name"`
	Latitude    float64  `json:"latitude" bson:"latitude"`
	Longitude   float64  `json:"longitude" bson:"longitude"`
	Address     string   `json:"address" bson:"address"`
	Type        string   `json:"type" bson:"type"` // AC or DC
	Capacity    int      `json:"availableSlots" bson:"availableSlots"`
	IsActive    bool     `json:"isActive" bson:"isActive"`
	OperatorIDs []string `json:"operatorUserIds" bson:"operatorUserIds"`
}

// HasOperator reports whether userID is assigned to the station.
func (s *Station) HasOperator(userID string) bool {
	return userID != "" && slices.Contains(s.OperatorIDs, userID)
}

func (s *Station) Clone() *Station {
	if s == nil {
		return nil
	}
	cp := *s
	cp.OperatorIDs = slices.Clone(s.OperatorIDs)
	return &cp
}
