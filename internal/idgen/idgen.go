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

// Package idgen generates the 128-bit random identifiers used as routing
// keys throughout the bus: a DataPublisher's pubUUID, an RpcClient's
// clientUUID, and a CallHandle's callUuid. No example in the retrieved
// corpus imports a UUID library directly, so this is a small stdlib-backed
// generator (see DESIGN.md).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// ID128 is a 128-bit identifier.
type ID128 [16]byte

// New generates a fresh random ID128 using a cryptographic RNG. The
// identifiers are routing keys, not security tokens, but crypto/rand costs
// nothing extra and avoids ever needing to seed a PRNG.
func New() ID128 {
	var id ID128
	if _, err := rand.Read(id[:]); err != nil {
		panic("idgen: failed to read random bytes: " + err.Error())
	}
	return id
}

// String renders the id as a lowercase hex string, used wherever the
// protocol carries the UUID as a routing string rather than raw bytes
// (e.g. ClientUUID, NetworkName).
func (id ID128) String() string {
	return hex.EncodeToString(id[:])
}
