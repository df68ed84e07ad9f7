package store

import "errors"

var (
	// ErrCorruptedBridgeDb For some reason, db on disk representation have changed
	ErrCorruptedBridgeDb = errors.New("bridge db is corrupted")

	// ErrMarkerNotFound The redemption marker we try to fetch is not found in db
	ErrMarkerNotFound = errors.New("redemption marker not found")

	// ErrProcessedBurnNotFound The processed burn we try to fetch is not found in db
	ErrProcessedBurnNotFound = errors.New("processed burn not found")

	// ErrBalanceOverflow Crediting the account would overflow its balance
	ErrBalanceOverflow = errors.New("balance overflow")
)
