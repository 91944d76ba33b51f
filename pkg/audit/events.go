package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityNotice:
		return "NOTICE"
	case SeverityWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a provisioning audit event.
type EventType string

const (
	EventProvisionStart      EventType = "provision.start"
	EventAppCreated          EventType = "app.created"
	EventPermissionsAssigned EventType = "permissions.assigned"
	EventConsentGranted      EventType = "consent.granted"
	EventMailExtension       EventType = "extension.mail"
	EventARMExtension        EventType = "extension.arm"
	EventCredentialIssued    EventType = "credential.issued"
	EventProvisionComplete   EventType = "provision.complete"
	EventProvisionFailed     EventType = "provision.failed"
)

// AllEventTypes returns every defined event type for iteration and validation.
func AllEventTypes() []EventType {
	return []EventType{
		EventProvisionStart,
		EventAppCreated,
		EventPermissionsAssigned,
		EventConsentGranted,
		EventMailExtension,
		EventARMExtension,
		EventCredentialIssued,
		EventProvisionComplete,
		EventProvisionFailed,
	}
}

// severityMap maps each event type to its syslog severity. Credential
// issuance and failures are warnings; everything else is routine.
var severityMap = map[EventType]Severity{
	EventProvisionStart:      SeverityInfo,
	EventAppCreated:          SeverityNotice,
	EventPermissionsAssigned: SeverityInfo,
	EventConsentGranted:      SeverityNotice,
	EventMailExtension:       SeverityInfo,
	EventARMExtension:        SeverityNotice,
	EventCredentialIssued:    SeverityWarning,
	EventProvisionComplete:   SeverityNotice,
	EventProvisionFailed:     SeverityWarning,
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning (fail-secure: treat unknowns as concerning).
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event represents a provisioning-relevant audit event with structured fields.
type Event struct {
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"run_id"`            // correlates all events of one run
	AppName   string            `json:"app_name"`          // requested application display name
	Details   map[string]string `json:"details,omitempty"` // event-specific fields
}

// NewProvisionStart creates a provision.start event.
func NewProvisionStart(runID, appName string, mailExt, armExt bool) Event {
	return Event{
		Type:      EventProvisionStart,
		Severity:  SeverityFor(EventProvisionStart),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"mail_extension": strconv.FormatBool(mailExt),
			"arm_extension":  strconv.FormatBool(armExt),
		},
	}
}

// NewAppCreated creates an app.created event carrying the directory object ids.
func NewAppCreated(runID, appName, objectID, clientID, spObjectID string) Event {
	return Event{
		Type:      EventAppCreated,
		Severity:  SeverityFor(EventAppCreated),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"object_id":    objectID,
			"client_id":    clientID,
			"sp_object_id": spObjectID,
		},
	}
}

// NewPermissionsAssigned creates a permissions.assigned event.
func NewPermissionsAssigned(runID, appName string, blocks, roles int) Event {
	return Event{
		Type:      EventPermissionsAssigned,
		Severity:  SeverityFor(EventPermissionsAssigned),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"blocks": strconv.Itoa(blocks),
			"roles":  strconv.Itoa(roles),
		},
	}
}

// NewConsentGranted creates a consent.granted event for one (resource, role) pair.
func NewConsentGranted(runID, appName, resourceID, roleID string) Event {
	return Event{
		Type:      EventConsentGranted,
		Severity:  SeverityFor(EventConsentGranted),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"resource_id": resourceID,
			"role_id":     roleID,
		},
	}
}

// NewExtension creates an extension event (extension.mail or extension.arm).
func NewExtension(et EventType, runID, appName string, details map[string]string) Event {
	return Event{
		Type:      et,
		Severity:  SeverityFor(et),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details:   details,
	}
}

// NewCredentialIssued creates a credential.issued event. The secret itself is
// never part of the event.
func NewCredentialIssued(runID, appName string, notAfter time.Time) Event {
	return Event{
		Type:      EventCredentialIssued,
		Severity:  SeverityFor(EventCredentialIssued),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"not_after": notAfter.UTC().Format(time.RFC3339),
		},
	}
}

// NewProvisionComplete creates a provision.complete event.
func NewProvisionComplete(runID, appName, clientID string) Event {
	return Event{
		Type:      EventProvisionComplete,
		Severity:  SeverityFor(EventProvisionComplete),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"client_id": clientID,
		},
	}
}

// NewProvisionFailed creates a provision.failed event naming the stage and cause.
func NewProvisionFailed(runID, appName, stage, code, reason string) Event {
	return Event{
		Type:      EventProvisionFailed,
		Severity:  SeverityFor(EventProvisionFailed),
		Timestamp: time.Now(),
		RunID:     runID,
		AppName:   appName,
		Details: map[string]string{
			"stage":  stage,
			"code":   code,
			"reason": reason,
		},
	}
}
