// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatdb

import "errors"

// ErrNoSchemaMatch is wrapped by Open when none of the three known message
// schema variants' head queries prepare successfully against db_path.
var ErrNoSchemaMatch = errors.New("chat.db did not match any known message schema")
