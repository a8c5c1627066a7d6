package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// SeatCatalog exposes the read-only seat inventory of a showtime.
// Implementations return ErrShowtimeNotFound for unknown showtimes and the
// seats ordered by row then number.
type SeatCatalog interface {
	SeatsForShowtime(ctx context.Context, showtimeID uint64) ([]model.Seat, error)
}

// StaticCatalog serves a fixed inventory held in memory.  It backs local
// runs without MySQL and the tests.
type StaticCatalog struct {
	seats map[uint64][]model.Seat
}

// NewStaticCatalog indexes seats by showtime.
func NewStaticCatalog(seats []model.Seat) *StaticCatalog {
	c := &StaticCatalog{seats: make(map[uint64][]model.Seat)}
	for _, s := range seats {
		c.seats[s.ShowtimeID] = append(c.seats[s.ShowtimeID], s)
	}
	for id := range c.seats {
		sortSeats(c.seats[id])
	}
	return c
}

// LoadStaticCatalog reads a JSON array of seats from path.
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var seats []model.Seat
	if err := json.Unmarshal(raw, &seats); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	for i := range seats {
		seats[i].Category = model.ParseCategory(string(seats[i].Category))
	}
	return NewStaticCatalog(seats), nil
}

func (c *StaticCatalog) SeatsForShowtime(ctx context.Context, showtimeID uint64) ([]model.Seat, error) {
	seats, ok := c.seats[showtimeID]
	if !ok {
		return nil, ErrShowtimeNotFound
	}
	return append([]model.Seat(nil), seats...), nil
}

func sortSeats(seats []model.Seat) {
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			if len(seats[i].Row) != len(seats[j].Row) {
				return len(seats[i].Row) < len(seats[j].Row)
			}
			return seats[i].Row < seats[j].Row
		}
		return seats[i].Number < seats[j].Number
	})
}
