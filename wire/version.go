/*
Copyright (c) The SIL Kit-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"fmt"

	hver "github.com/hashicorp/go-version"
)

// ProtocolVersion is exchanged during the peer handshake. Both sides agree
// to use the lower of the two for all subsequent ser/des on that connection.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// CurrentProtocolVersion is the version this build speaks natively.
var CurrentProtocolVersion = ProtocolVersion{Major: 1, Minor: 0}

// asHashicorp renders the version in dotted form so we can reuse
// hashicorp/go-version's comparison instead of hand-rolling one.
func (v ProtocolVersion) asHashicorp() (*hver.Version, error) {
	return hver.NewVersion(fmt.Sprintf("%d.%d.0", v.Major, v.Minor))
}

// Negotiate returns the lower of the two versions. A version that fails to
// parse (should never happen for well-formed wire values) is treated as
// unnegotiable.
func Negotiate(local, remote ProtocolVersion) (ProtocolVersion, error) {
	lv, err := local.asHashicorp()
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("local version %+v: %w", local, err)
	}
	rv, err := remote.asHashicorp()
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("remote version %+v: %w", remote, err)
	}
	if lv.LessThanOrEqual(rv) {
		return local, nil
	}
	return remote, nil
}

// String implements fmt.Stringer.
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
