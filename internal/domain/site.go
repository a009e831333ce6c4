package domain

import "github.com/google/uuid"

// Site is the upload target a polygon belongs to.
type Site struct {
	UUID      uuid.UUID
	ProjectID *uuid.UUID
	Name      string
}

// Project owns sites; its centroid is derived from all active polygons.
type Project struct {
	ID   uuid.UUID
	Name string
	Lat  *float64
	Long *float64
}
