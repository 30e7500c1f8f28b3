package auth

import "github.com/gelozr/authflow/event"

type EventType string

const (
	EventInitial              EventType = "Initial"
	EventAuthStateInitialized EventType = "AuthStateInitialized"
	EventAuthSucceeded        EventType = "AuthSucceeded"
	EventAuthFailed           EventType = "AuthFailed"
	EventLoggedIn             EventType = "LoggedIn"
	EventLogInFailed          EventType = "LogInFailed"
	EventLoggedOut            EventType = "LoggedOut"
	EventAccessTokenRefreshed EventType = "AccessTokenRefreshed"
)

// Event is one authentication lifecycle transition.
type Event interface {
	Type() EventType
}

type LoggedOutReason string

const (
	UserLogout     LoggedOutReason = "UserLogout"
	SessionExpired LoggedOutReason = "SessionExpired"
)

type Initial struct{}

type AuthStateInitialized struct{}

// AuthSucceeded means a provider authenticated the user. State is the opaque
// provider payload forwarded to the login endpoint.
type AuthSucceeded struct {
	ProviderID string
	State      any
}

type AuthFailed struct {
	ProviderID string
	Code       ErrorCode
}

type LoggedIn struct {
	User        User
	AccessToken string
}

type LogInFailed struct {
	Code ErrorCode
}

type LoggedOut struct {
	Reason LoggedOutReason
}

type AccessTokenRefreshed struct {
	AccessToken string
}

func (Initial) Type() EventType              { return EventInitial }
func (AuthStateInitialized) Type() EventType { return EventAuthStateInitialized }
func (AuthSucceeded) Type() EventType        { return EventAuthSucceeded }
func (AuthFailed) Type() EventType           { return EventAuthFailed }
func (LoggedIn) Type() EventType             { return EventLoggedIn }
func (LogInFailed) Type() EventType          { return EventLogInFailed }
func (LoggedOut) Type() EventType            { return EventLoggedOut }
func (AccessTokenRefreshed) Type() EventType { return EventAccessTokenRefreshed }

// Bus carries lifecycle events. It is created once per application session.
type Bus = event.Bus[Event]

// NewBus returns a bus whose current event is Initial.
func NewBus(opts ...event.Option) *Bus {
	return event.NewBus[Event](Initial{}, opts...)
}
