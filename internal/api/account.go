package api

import (
	"context"
	"fmt"
	"net/http"
)

// Login authenticates and starts a new session. Everything cached for the
// previous session is dropped.
func (c *Client) Login(ctx context.Context, username, password string) (*Tokens, error) {
	var tokens Tokens
	body := map[string]string{"username": username, "password": password}
	if err := c.send(ctx, http.MethodPost, "/auth/login/", body, &tokens); err != nil {
		return nil, err
	}
	c.Invalidate()
	c.SetToken(tokens.Access)
	return &tokens, nil
}

// Logout ends the session locally and drops every cached response.
func (c *Client) Logout() {
	c.SetToken("")
	c.Invalidate()
}

// Me returns the logged-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/auth/me/", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies changes to user id.
func (c *Client) UpdateUser(ctx context.Context, id int64, changes map[string]any) (*User, error) {
	var user User
	if err := c.send(ctx, http.MethodPatch, fmt.Sprintf("/users/%d/", id), changes, &user); err != nil {
		return nil, err
	}
	c.InvalidateUserCache(id)
	return &user, nil
}

// CompanyProfile returns the profile of the logged-in company.
func (c *Client) CompanyProfile(ctx context.Context) (*CompanyProfile, error) {
	var profile CompanyProfile
	if err := c.get(ctx, "/companies/profile/", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateCompanyProfile replaces the profile of the logged-in company.
func (c *Client) UpdateCompanyProfile(ctx context.Context, profile CompanyProfile) error {
	if err := c.send(ctx, http.MethodPost, "/companies/profile/", profile, nil); err != nil {
		return err
	}
	c.store.Invalidate("/companies/profile/")
	c.store.Invalidate("/auth/me/")
	return nil
}

// FollowIndustries sets the industries the current user follows.
func (c *Client) FollowIndustries(ctx context.Context, industries []int64) error {
	body := map[string][]int64{"industries": industries}
	if err := c.send(ctx, http.MethodPost, "/trials/industries/follow/", body, nil); err != nil {
		return err
	}
	c.store.Invalidate("/trials/industries/user/")
	return nil
}

// Subscriptions returns the subscriptions of the current user.
func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if err := c.get(ctx, "/subscriptions/", nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Notifications returns the notifications of the current user.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var notifications []Notification
	if err := c.get(ctx, "/notifications/", nil, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkNotificationRead marks notification id as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/notifications/%d/read/", id), nil, nil); err != nil {
		return err
	}
	c.store.Invalidate("/notifications/")
	return nil
}
