package api

import (
	"context"
	"fmt"
	"net/http"
)

// ListTrials returns a page of approved trials filtered by params.
func (c *Client) ListTrials(ctx context.Context, params map[string]any) (*Page[Trial], error) {
	var page Page[Trial]
	if err := c.get(ctx, "/trials/", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetTrial returns trial id.
func (c *Client) GetTrial(ctx context.Context, id int64) (*Trial, error) {
	var trial Trial
	if err := c.get(ctx, fmt.Sprintf("/trials/%d/", id), nil, &trial); err != nil {
		return nil, err
	}
	return &trial, nil
}

// Favorites returns the trials the current user marked as favorite.
func (c *Client) Favorites(ctx context.Context) ([]Trial, error) {
	var trials []Trial
	if err := c.get(ctx, "/trials/favorites/", nil, &trials); err != nil {
		return nil, err
	}
	return trials, nil
}

// CompanyTrials returns the trials of the logged-in company.
func (c *Client) CompanyTrials(ctx context.Context) ([]Trial, error) {
	var trials []Trial
	if err := c.get(ctx, "/trials/company/", nil, &trials); err != nil {
		return nil, err
	}
	return trials, nil
}

// Industries returns every industry trials can be filed under.
func (c *Client) Industries(ctx context.Context) ([]Industry, error) {
	var industries []Industry
	if err := c.get(ctx, "/trials/industries/", nil, &industries); err != nil {
		return nil, err
	}
	return industries, nil
}

// TrialMetrics returns the analytics of trial id, filtered by params.
func (c *Client) TrialMetrics(ctx context.Context, id int64, params map[string]any) (TrialMetrics, error) {
	var metrics TrialMetrics
	if err := c.get(ctx, fmt.Sprintf("/analytics/trials/%d/metrics/", id), params, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// CreateTrial submits a new trial for approval.
func (c *Client) CreateTrial(ctx context.Context, trial NewTrial) (*Trial, error) {
	var created Trial
	if err := c.send(ctx, http.MethodPost, "/trials/create/", trial, &created); err != nil {
		return nil, err
	}
	// Also clears the trial lists, which now include the new trial
	c.InvalidateTrialCache(created.ID)
	return &created, nil
}

// ToggleFavorite flips the favorite flag of trial id for the current user.
func (c *Client) ToggleFavorite(ctx context.Context, id int64) error {
	return c.trialAction(ctx, id, "favorite")
}

// ApproveTrial publishes trial id. Admin only.
func (c *Client) ApproveTrial(ctx context.Context, id int64) error {
	return c.trialAction(ctx, id, "approve")
}

// ToggleFeatured flips the featured flag of trial id. Admin only.
func (c *Client) ToggleFeatured(ctx context.Context, id int64) error {
	return c.trialAction(ctx, id, "toggle-featured")
}

func (c *Client) trialAction(ctx context.Context, id int64, action string) error {
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/trials/%d/%s/", id, action), nil, nil); err != nil {
		return err
	}
	c.InvalidateTrialCache(id)
	return nil
}
