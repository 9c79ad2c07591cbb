package attendance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"example.com/attendance/internal/contract"
	"example.com/attendance/internal/gateway"
)

// Backend endpoints for attendance.
const (
	PathCheckIn  = "/attendance/check-in"
	PathCheckOut = "/attendance/check-out"
	PathStatus   = "/attendance/status"
	PathRecords  = "/attendance/records"
)

// Caller issues gateway calls. *gateway.Gateway satisfies it.
type Caller interface {
	Call(ctx context.Context, method, path string, body, out any, opts ...gateway.CallOption) error
}

// Client submits attendance actions through the gateway.
type Client struct {
	gw Caller
}

// NewClient constructs a Client.
func NewClient(gw Caller) *Client {
	return &Client{gw: gw}
}

// Submit implements Submitter.
func (c *Client) Submit(ctx context.Context, action Action, req contract.SubmitRequest) (contract.StatusResponse, error) {
	var path string
	switch action {
	case ActionCheckIn:
		path = PathCheckIn
	case ActionCheckOut:
		path = PathCheckOut
	default:
		return contract.StatusResponse{}, fmt.Errorf("attendance: unknown action %q", action)
	}

	var resp contract.StatusResponse
	if err := c.gw.Call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return contract.StatusResponse{}, err
	}
	resp.Status = contract.ParseStatus(string(resp.Status))
	if resp.Status == contract.StatusUnknown {
		resp.Status = action.Result()
	}
	return resp, nil
}

// CurrentStatus returns the authoritative status of the signed-in employee.
func (c *Client) CurrentStatus(ctx context.Context) (contract.AttendanceStatus, error) {
	var resp contract.StatusResponse
	if err := c.gw.Call(ctx, http.MethodGet, PathStatus, nil, &resp); err != nil {
		return contract.StatusUnknown, err
	}
	return contract.ParseStatus(string(resp.Status)), nil
}

// Records lists recent attendance records. Only administrators may call it.
func (c *Client) Records(ctx context.Context, limit int) ([]contract.AttendanceRecord, error) {
	path := PathRecords
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp contract.RecordsResponse
	if err := c.gw.Call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}
