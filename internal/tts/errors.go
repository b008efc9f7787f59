package tts

import "errors"

var (
	errNotStarted      = errors.New("tts sub-session not started")
	errStreamClosed    = errors.New("tts upstream closed without a close event")
	errReconnectFailed = errors.New("tts upstream reconnect exhausted its retries")
)
