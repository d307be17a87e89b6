package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/imamik/branchenv/internal/environment"
)

const (
	headerEvent     = "X-GitHub-Event"
	headerSignature = "X-Hub-Signature-256"
	headerDelivery  = "X-GitHub-Delivery"

	branchRefPrefix = "refs/heads/"
)

var (
	errBadSignature = errors.New("signature does not match")
	errIgnored      = errors.New("event ignored")
)

// refEvent is the payload of GitHub create and delete events.
type refEvent struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
}

// pushEvent is the subset of a GitHub push payload needed to classify it.
type pushEvent struct {
	Ref     string `json:"ref"`
	Created bool   `json:"created"`
	Deleted bool   `json:"deleted"`
}

// verifySignature checks body against a "sha256=<hex>" signature.
func verifySignature(secret, body []byte, signature string) error {
	hexSum, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return errBadSignature
	}
	got, err := hex.DecodeString(hexSum)
	if err != nil {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}

// sign returns the signature GitHub sends for body.
func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// parseEvent maps a GitHub delivery to a branch event. Tag events and
// unrelated event types return errIgnored.
func parseEvent(kind string, body []byte) (environment.BranchRef, error) {
	switch kind {
	case "create", "delete":
		var ev refEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return environment.BranchRef{}, fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		if ev.RefType != "branch" {
			return environment.BranchRef{}, errIgnored
		}
		event := environment.EventCreated
		if kind == "delete" {
			event = environment.EventDeleted
		}
		return environment.BranchRef{Name: ev.Ref, Event: event}, nil

	case "push":
		var ev pushEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return environment.BranchRef{}, fmt.Errorf("invalid push payload: %w", err)
		}
		name, ok := strings.CutPrefix(ev.Ref, branchRefPrefix)
		if !ok {
			return environment.BranchRef{}, errIgnored
		}
		event := environment.EventUpdated
		switch {
		case ev.Deleted:
			event = environment.EventDeleted
		case ev.Created:
			event = environment.EventCreated
		}
		return environment.BranchRef{Name: name, Event: event}, nil
	}
	return environment.BranchRef{}, errIgnored
}
