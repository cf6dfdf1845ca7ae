package ice

import "errors"

var (
	// errReadTimeout retires a base whose socket has gone quiet past the
	// read deadline; only the selected base keeps traffic flowing.
	errReadTimeout = errors.New("ice: base read timed out")

	// errNotConfigured means EstablishConnection ran before Configure
	// supplied the negotiated credentials.
	errNotConfigured = errors.New("ice: agent has no credentials; negotiate first")

	// errEstablishTimeout means no candidate pair was nominated within the
	// agent's overall deadline.
	errEstablishTimeout = errors.New("ice: no candidate pair succeeded in time")
)
