package domain

import "time"

// DensityUnset marks a post whose technical density has not been derived yet
const DensityUnset = -1

// PostStub is a candidate post found on a listing page
type PostStub struct {
	Title string
	URL   string
	Date  *time.Time // nil when no date rule matched or every format failed
}

// Post represents a blog post stored in the database
type Post struct {
	ID               int64
	SourceID         int64
	Title            string
	URL              string
	URLKey           string
	PublishedAt      *time.Time
	DiscoveredAt     time.Time
	FullText         string
	Summary          string
	TechnicalDensity int
	ReadingTime      int // minutes, 0 when unknown
	Topics           []string
}

// Topic is a globally shared, lowercase hyphenated tag
type Topic struct {
	ID   int64
	Name string
}
