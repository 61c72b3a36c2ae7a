package domain

import "errors"

var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrAlreadyActive   = errors.New("session already active")
	ErrConnectFailed   = errors.New("connect failed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrTerminate       = errors.New("terminate failed")
	ErrStatisticsFetch = errors.New("statistics fetch failed")
	ErrSignaling       = errors.New("signaling error")
	ErrStartAborted    = errors.New("session stopped while connecting")
)
