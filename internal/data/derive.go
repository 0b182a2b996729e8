package data

import (
	"context"
	"sort"
	"time"
)

func todayDate() string {
	return time.Now().Format("2006-01-02")
}

// GetTodaySchedule returns today's pickups and returns, ordered by time.
func (f *Facade) GetTodaySchedule(ctx context.Context) ([]ScheduleEntry, error) {
	rentals, err := f.GetRentals(ctx)
	if err != nil {
		return nil, err
	}

	today := todayDate()
	var schedule []ScheduleEntry
	for _, r := range rentals {
		if r.Status != RentalActive {
			continue
		}
		if r.StartDate == today {
			schedule = append(schedule, ScheduleEntry{Rental: r, Type: "pickup"})
		}
		if r.EndDate == today {
			schedule = append(schedule, ScheduleEntry{Rental: r, Type: "return"})
		}
	}

	sort.SliceStable(schedule, func(i, j int) bool {
		return scheduleTime(schedule[i]) < scheduleTime(schedule[j])
	})
	return schedule, nil
}

func scheduleTime(e ScheduleEntry) string {
	t := e.StartTime
	if e.Type == "return" {
		t = e.EndTime
	}
	if t == "" {
		return "00:00"
	}
	return t
}

// deriveCustomers rolls rentals up into per-customer aggregates keyed by
// phone number, most bookings first.
func deriveCustomers(rentals []Rental) []Customer {
	byPhone := make(map[string]*Customer)
	order := make([]string, 0)

	for _, r := range rentals {
		c, ok := byPhone[r.CustomerPhone]
		if !ok {
			c = &Customer{
				Name:       r.CustomerName,
				Phone:      r.CustomerPhone,
				LastRental: r.CreatedAt,
			}
			byPhone[r.CustomerPhone] = c
			order = append(order, r.CustomerPhone)
		}
		c.TotalBookings++
		c.TotalSpent += r.TotalAmount
		if r.Status == RentalActive {
			c.ActiveRentals++
		}
		if r.CreatedAt.After(c.LastRental) {
			c.LastRental = r.CreatedAt
		}
	}

	customers := make([]Customer, 0, len(order))
	for _, phone := range order {
		customers = append(customers, *byPhone[phone])
	}
	sort.SliceStable(customers, func(i, j int) bool {
		return customers[i].TotalBookings > customers[j].TotalBookings
	})
	return customers
}

func deriveDashboardStats(cars []Car, rentals []Rental) DashboardStats {
	var stats DashboardStats

	for _, c := range cars {
		if c.Status == CarAvailable {
			stats.AvailableCars++
		}
	}

	now := time.Now()
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	phones := make(map[string]struct{})
	for _, r := range rentals {
		if r.Status == RentalActive {
			stats.ActiveRentals++
		}
		if !r.CreatedAt.Before(startOfMonth) {
			stats.MonthlyRevenue += r.TotalAmount
		}
		phones[r.CustomerPhone] = struct{}{}
	}
	stats.TotalCustomers = len(phones)

	return stats
}

func derivePayments(rentals []Rental) PaymentsSnapshot {
	snap := PaymentsSnapshot{Payments: rentals}
	if snap.Payments == nil {
		snap.Payments = []Rental{}
	}

	for _, r := range rentals {
		snap.Stats.TotalBilled += r.TotalAmount
		snap.Stats.Collected += r.AmountPaid
		if r.PaymentStatus == "paid" {
			snap.Stats.PaidCount++
		}
	}
	snap.Stats.Outstanding = snap.Stats.TotalBilled - snap.Stats.Collected
	return snap
}
