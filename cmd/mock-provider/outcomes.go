package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type outcome struct {
	finalStatus string
	errorCode   int
	sendSent    bool
	httpStatus  int
	callErr     error
}

type weightedOutcome struct {
	Kind   string
	Weight float64
}

// classifyOutcome turns an outcome token such as "ok", "failed:63016" or "429"
// into the provider behaviour to simulate.
func classifyOutcome(raw string) outcome {
	token := strings.TrimSpace(raw)
	if token == "" {
		token = "ok"
	}
	kind, codeStr, _ := strings.Cut(token, ":")
	code, _ := strconv.Atoi(codeStr)
	orDefault := func(def int) int {
		if code != 0 {
			return code
		}
		return def
	}

	switch kind {
	case "ok", "success":
		return outcome{finalStatus: "delivered", sendSent: true, httpStatus: http.StatusCreated}
	case "undelivered":
		// 63016: outside the 24h session window without an approved template
		return outcome{finalStatus: "undelivered", errorCode: orDefault(63016), sendSent: true, httpStatus: http.StatusCreated}
	case "failed":
		return outcome{finalStatus: "failed", errorCode: orDefault(30008), httpStatus: http.StatusCreated}
	case "rate_limit", "429":
		return outcome{errorCode: orDefault(20429), httpStatus: http.StatusTooManyRequests, callErr: errors.New("Too Many Requests")}
	case "bad_request", "400":
		return outcome{errorCode: orDefault(21211), httpStatus: http.StatusBadRequest, callErr: errors.New("Invalid 'To' Phone Number")}
	case "auth", "401":
		return outcome{errorCode: orDefault(20003), httpStatus: http.StatusUnauthorized, callErr: errors.New("Authenticate")}
	case "server_error", "500":
		return outcome{errorCode: orDefault(20500), httpStatus: http.StatusInternalServerError, callErr: errors.New("Internal Server Error")}
	case "timeout":
		return outcome{errorCode: orDefault(20429), httpStatus: http.StatusGatewayTimeout, callErr: context.DeadlineExceeded}
	default:
		return outcome{errorCode: orDefault(30008), httpStatus: http.StatusInternalServerError, callErr: errors.New("mock error: " + kind)}
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoff is base * 2^attempt, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	wait := base << attempt
	if wait > max || wait <= 0 {
		return max
	}
	return wait
}

func parseCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}

func parseWeightedOutcomes(s string) []weightedOutcome {
	var out []weightedOutcome
	for _, p := range strings.Split(s, ",") {
		kind, weight, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || strings.TrimSpace(kind) == "" {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
		if err != nil || w <= 0 {
			continue
		}
		out = append(out, weightedOutcome{Kind: strings.TrimSpace(kind), Weight: w})
	}
	return out
}

func pickWeighted(r float64, items []weightedOutcome) string {
	if len(items) == 0 {
		return "failed"
	}
	var total float64
	for _, it := range items {
		total += it.Weight
	}
	target := r * total
	var cumulative float64
	for _, it := range items {
		cumulative += it.Weight
		if target <= cumulative {
			return it.Kind
		}
	}
	return items[len(items)-1].Kind
}
