// Package credential is a self hosted credential store for opspilot.
//
// A Provider owns the shared backend: credential users, one time codes
// and signed access tokens. A Client is the per instance view of it. It
// keeps the current access token in a slot and pushes auth events to
// its subscribers, which is what the session synchronizer listens to.
package credential
