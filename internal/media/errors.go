//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "errors"

var (
	// errNotFound is wrapped by OpenSource when no backend claims a tag.
	errNotFound = errors.New("not found")
)
