package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// FareSample is one priced itinerary returned for a route and date.
type FareSample struct {
	Price      decimal.Decimal
	Currency   string
	Stops      int
	Airline    string
	Aircraft   string
	FlightNo   string
	Cabin      string
	DeepLink   string
	DepartAt   time.Time
	ArriveAt   time.Time
	ReturnDate string
}

// Validate enforces price > 0 and stops >= 0.
func (f FareSample) Validate() error {
	if !f.Price.IsPositive() {
		return errors.New("fare price must be positive")
	}
	if f.Stops < 0 {
		return errors.New("fare stops cannot be negative")
	}
	return nil
}

// PriceFloat is the price as float64 for statistics.
func (f FareSample) PriceFloat() float64 {
	return f.Price.InexactFloat64()
}
