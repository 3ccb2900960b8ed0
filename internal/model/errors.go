package model

import (
	"errors"
)

var (
	ErrEmptyQuestion = errors.New("question cannot be empty")
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrMissingSages  = errors.New("response must contain exactly the three sages")
)
