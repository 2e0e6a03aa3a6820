// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errtype defines the taxonomy of errors returned by this module, so
// that callers can use errors.As to distinguish between configuration
// mistakes, transient refresh failures, and permanent rejections from the
// admin API.
package errtype

import "fmt"

// ConfigError is a configuration error, e.g. an invalid instance identifier.
// It is never retryable.
type ConfigError struct {
	msg    string
	connID string
}

// NewConfigError initializes a ConfigError.
func NewConfigError(msg, connID string) *ConfigError {
	return &ConfigError{msg: msg, connID: connID}
}

func (c *ConfigError) Error() string {
	return fmt.Sprintf("[%v] %v", c.connID, c.msg)
}

// RefreshError is an umbrella error for admin API or transport failures
// encountered while refreshing a credential bundle. The underlying cause is
// preserved and may be inspected with errors.Unwrap.
type RefreshError struct {
	msg    string
	connID string
	err    error
}

// NewRefreshError initializes a RefreshError.
func NewRefreshError(msg, connID string, err error) *RefreshError {
	return &RefreshError{msg: msg, connID: connID, err: err}
}

func (r *RefreshError) Error() string {
	if r.err == nil {
		return fmt.Sprintf("[%v] %v", r.connID, r.msg)
	}
	return fmt.Sprintf("[%v] %v: %v", r.connID, r.msg, r.err)
}

// Unwrap returns the underlying cause, if any.
func (r *RefreshError) Unwrap() error { return r.err }

// APIDisabledError is returned when the admin API reports that the relevant
// service API has not been enabled for the project.
type APIDisabledError struct {
	msg     string
	connID  string
	project string
}

// NewAPIDisabledError initializes an APIDisabledError whose message embeds a
// console URL the operator can visit to enable the API.
func NewAPIDisabledError(msg, connID, project string) *APIDisabledError {
	return &APIDisabledError{msg: msg, connID: connID, project: project}
}

func (a *APIDisabledError) Error() string {
	return fmt.Sprintf(
		"[%v] %v (see https://console.cloud.google.com/apis/api/sqladmin/overview?project=%v)",
		a.connID, a.msg, a.project,
	)
}

// NotAuthorizedError is returned when the admin API reports that the caller
// is not authorized to access the instance, or the instance does not exist.
type NotAuthorizedError struct {
	connID  string
	project string
}

// NewNotAuthorizedError initializes a NotAuthorizedError.
func NewNotAuthorizedError(connID, project string) *NotAuthorizedError {
	return &NotAuthorizedError{connID: connID, project: project}
}

func (n *NotAuthorizedError) Error() string {
	return fmt.Sprintf(
		"[%v] ensure that the account has access to %q and the API is enabled for the project (%v)",
		n.connID, n.connID, n.project,
	)
}

// ValidationError is returned when fetched instance metadata fails the
// invariants this module requires (wrong region, wrong backend type, no IP
// addresses).
type ValidationError struct {
	msg    string
	connID string
}

// NewValidationError initializes a ValidationError.
func NewValidationError(msg, connID string) *ValidationError {
	return &ValidationError{msg: msg, connID: connID}
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("[%v] %v", v.connID, v.msg)
}

// ParseError is returned when a certificate returned by the admin API cannot
// be decoded as PEM/X.509.
type ParseError struct {
	msg    string
	connID string
	err    error
}

// NewParseError initializes a ParseError.
func NewParseError(msg, connID string, err error) *ParseError {
	return &ParseError{msg: msg, connID: connID, err: err}
}

func (p *ParseError) Error() string {
	if p.err == nil {
		return fmt.Sprintf("[%v] %v", p.connID, p.msg)
	}
	return fmt.Sprintf("[%v] %v: %v", p.connID, p.msg, p.err)
}

// Unwrap returns the underlying decode error, if any.
func (p *ParseError) Unwrap() error { return p.err }

// CryptoError is returned when TLS configuration assembly fails, e.g. the
// key pair and the ephemeral certificate do not match.
type CryptoError struct {
	msg    string
	connID string
	err    error
}

// NewCryptoError initializes a CryptoError.
func NewCryptoError(msg, connID string, err error) *CryptoError {
	return &CryptoError{msg: msg, connID: connID, err: err}
}

func (c *CryptoError) Error() string {
	if c.err == nil {
		return fmt.Sprintf("[%v] %v", c.connID, c.msg)
	}
	return fmt.Sprintf("[%v] %v: %v", c.connID, c.msg, c.err)
}

// Unwrap returns the underlying cause, if any.
func (c *CryptoError) Unwrap() error { return c.err }

// NoMatchingIPError is returned by PreferredIP when none of the requested IP
// types are present on the instance.
type NoMatchingIPError struct {
	connID string
	want   []string
}

// NewNoMatchingIPError initializes a NoMatchingIPError.
func NewNoMatchingIPError(connID string, want []string) *NoMatchingIPError {
	return &NoMatchingIPError{connID: connID, want: want}
}

func (n *NoMatchingIPError) Error() string {
	return fmt.Sprintf(
		"[%v] no IP addresses of type %v were found for this instance",
		n.connID, n.want,
	)
}

// TLS13UnavailableError describes a connection configured for IAM
// authentication that cannot negotiate TLS 1.3. IAM authentication requires
// TLS 1.3 and must never silently fall back to TLS 1.2. Nothing in this
// module constructs it: a Manager's IAM TLS config sets TLS 1.3 as its
// minimum, so a failed negotiation surfaces as a handshake error from the
// embedder's dialer, which may wrap it in this type.
type TLS13UnavailableError struct {
	connID string
}

// NewTLS13UnavailableError initializes a TLS13UnavailableError.
func NewTLS13UnavailableError(connID string) *TLS13UnavailableError {
	return &TLS13UnavailableError{connID: connID}
}

func (t *TLS13UnavailableError) Error() string {
	return fmt.Sprintf(
		"[%v] IAM authentication requires TLS 1.3, but it is not available in this runtime",
		t.connID,
	)
}
