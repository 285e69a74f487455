package api

import "time"

// Page is a paginated list.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Trial is a product trial listed on the marketplace.
type Trial struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	CompanyName   string    `json:"company_name,omitempty"`
	Industry      string    `json:"industry,omitempty"`
	TrialDays     int       `json:"trial_days,omitempty"`
	URL           string    `json:"url,omitempty"`
	IsFavorite    bool      `json:"is_favorite"`
	IsFeatured    bool      `json:"is_featured"`
	IsApproved    bool      `json:"is_approved"`
	FavoriteCount int       `json:"favorite_count,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// NewTrial is the payload of CreateTrial.
type NewTrial struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Industry    int64  `json:"industry"`
	TrialDays   int    `json:"trial_days"`
	URL         string `json:"url"`
}

// Industry categorizes trials.
type Industry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a marketplace account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	UserType string `json:"user_type"`
}

// CompanyProfile describes the company behind a vendor account.
type CompanyProfile struct {
	CompanyName string `json:"company_name"`
	Website     string `json:"website,omitempty"`
	Description string `json:"description,omitempty"`
}

// Subscription is a paid plan of a company.
type Subscription struct {
	ID        int64     `json:"id"`
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Notification is a message for the current user.
type Notification struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
}

// Tokens is the result of a login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TrialMetrics holds analytics counters keyed by metric name.
type TrialMetrics map[string]any
