/*
 * Copyright 2025 The Coedit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

// User is the identity a client presents when joining a room. It is
// supplied by the host application; the collaboration core does not
// authenticate it.
type User struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
}

// Member is one live connection's presence record within a room. A
// logical user with several tabs open holds several Members, one per
// connection.
type Member struct {
	ConnectionID string `json:"connectionId"`
	User         User   `json:"user"`
}
