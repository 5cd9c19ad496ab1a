/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package optimizers

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(&SGDState{})
	gob.Register(&AdamState{})
}

// EncodeState serializes an optimizer state with encoding/gob. Custom State implementations
// must be registered with gob.Register to be encoded.
func EncodeState(w io.Writer, state State) error {
	if state == nil {
		return errors.New("optimizers: cannot encode nil state")
	}
	if err := gob.NewEncoder(w).Encode(&state); err != nil {
		return errors.Wrapf(err, "optimizers: failed to encode state of type %T", state)
	}
	return nil
}

// DecodeState deserializes an optimizer state encoded with EncodeState.
func DecodeState(r io.Reader) (State, error) {
	var state State
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, errors.Wrap(err, "optimizers: failed to decode state")
	}
	if state == nil {
		return nil, errors.New("optimizers: decoded nil state")
	}
	return state, nil
}

// SaveState writes the optimizer state to the given file.
func SaveState(filePath string, state State) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "optimizers: failed to create state file %q", filePath)
	}
	if err = EncodeState(f, state); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "optimizers: failed to close state file %q", filePath)
	}
	return nil
}

// LoadState reads an optimizer state saved with SaveState.
func LoadState(filePath string) (State, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "optimizers: failed to open state file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	state, err := DecodeState(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return state, nil
}
