// Package data is the per-entity access layer: reads prefer the network and
// fall back to the durable cache, writes go through the sync coordinator.
package data

import (
	"time"
)

// Cache keys, one per logical dataset.
const (
	KeyCars      = "cars"
	KeyRentals   = "rentals"
	KeyCustomers = "customers"
	KeyDashboard = "dashboardStats"
	KeyPayments  = "payments"
)

const (
	CarAvailable   = "available"
	CarRented      = "rented"
	CarMaintenance = "maintenance"
)

const (
	RentalActive    = "active"
	RentalCompleted = "completed"
	RentalCancelled = "cancelled"
)

type Car struct {
	ID          int64   `json:"id,omitempty"`
	Make        string  `json:"make"`
	Model       string  `json:"model"`
	Year        int     `json:"year,omitempty"`
	PlateNumber string  `json:"plate_number,omitempty"`
	Status      string  `json:"status"`
	DailyRate   float64 `json:"daily_rate,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
}

type Rental struct {
	ID            int64     `json:"id,omitempty"`
	CarID         int64     `json:"car_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	StartDate     string    `json:"start_date"` // YYYY-MM-DD
	EndDate       string    `json:"end_date"`
	StartTime     string    `json:"start_time,omitempty"` // HH:MM
	EndTime       string    `json:"end_time,omitempty"`
	Status        string    `json:"status"`
	TotalAmount   float64   `json:"total_amount"`
	AmountPaid    float64   `json:"amount_paid"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Customer is a roll-up derived from rental records, keyed by phone number.
// It is a view, not independently fetched ground truth.
type Customer struct {
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	TotalBookings int       `json:"total_bookings"`
	TotalSpent    float64   `json:"total_spent"`
	ActiveRentals int       `json:"active_rentals"`
	LastRental    time.Time `json:"last_rental"`
}

type DashboardStats struct {
	AvailableCars  int     `json:"available_cars"`
	ActiveRentals  int     `json:"active_rentals"`
	MonthlyRevenue float64 `json:"monthly_revenue"`
	TotalCustomers int     `json:"total_customers"`
}

type PaymentStats struct {
	TotalBilled float64 `json:"total_billed"`
	Collected   float64 `json:"collected"`
	Outstanding float64 `json:"outstanding"`
	PaidCount   int     `json:"paid_count"`
}

// PaymentsSnapshot is cached under its own key so the payments view works
// offline.
type PaymentsSnapshot struct {
	Payments []Rental     `json:"payments"`
	Stats    PaymentStats `json:"stats"`
}

// ScheduleEntry is a rental annotated as today's pickup or return.
type ScheduleEntry struct {
	Rental
	Type string `json:"type"` // "pickup" or "return"
}
