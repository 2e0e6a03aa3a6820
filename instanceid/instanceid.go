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

// Package instanceid parses the colon-delimited identifiers used to address
// instances of the managed database service.
package instanceid

import (
	"fmt"
	"regexp"

	"github.com/cloudconnect-oss/dbconn/errtype"
)

// idRegex matches <project>(:<subproject>)?:<region>:<instance>. Legacy
// domain-scoped projects (e.g. "example.com:my-project") embed one extra
// colon in the first component.
var idRegex = regexp.MustCompile(`^([^:]+(?::[^:]+)?):([^:]+):([^:]+)$`)

// ID is an immutable, parsed instance identifier.
type ID struct {
	Project  string
	Region   string
	Instance string
}

// RegionalInstance returns the "<region>~<instance>" path segment used to
// address this instance in admin-API requests.
func (i ID) RegionalInstance() string {
	return i.Region + "~" + i.Instance
}

// String recomposes the identifier into its canonical colon-delimited form.
func (i ID) String() string {
	return fmt.Sprintf("%s:%s:%s", i.Project, i.Region, i.Instance)
}

// Parse validates and splits a connection name of the form
// "<project>(:<subproject>)?:<region>:<instance>". A malformed identifier is
// a programming error: it is fatal and not retryable.
func Parse(name string) (ID, error) {
	m := idRegex.FindStringSubmatch(name)
	if m == nil {
		return ID{}, errtype.NewConfigError(
			"invalid instance identifier, expected "+
				"project(:subproject)?:region:instance",
			name,
		)
	}
	return ID{
		Project:  m[1],
		Region:   m[2],
		Instance: m[3],
	}, nil
}
