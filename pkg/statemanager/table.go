package statemanager

import "github.com/satchwsm/backbeat/pkg/models"

// Table is the set of legal transitions per axis. It is read-only once built.
type Table struct {
	server map[models.ServerStatus]map[models.ServerStatus]bool
	client map[models.ClientStatus]map[models.ClientStatus]bool
}

// NewTable builds a table from explicit adjacency lists.
func NewTable(
	server map[models.ServerStatus][]models.ServerStatus,
	client map[models.ClientStatus][]models.ClientStatus,
) Table {
	t := Table{
		server: make(map[models.ServerStatus]map[models.ServerStatus]bool, len(server)),
		client: make(map[models.ClientStatus]map[models.ClientStatus]bool, len(client)),
	}

	for from, targets := range server {
		t.server[from] = make(map[models.ServerStatus]bool, len(targets))
		for _, to := range targets {
			t.server[from][to] = true
		}
	}

	for from, targets := range client {
		t.client[from] = make(map[models.ClientStatus]bool, len(targets))
		for _, to := range targets {
			t.client[from][to] = true
		}
	}

	return t
}

// DefaultTable returns the engine's transition policy.
func DefaultTable() Table {
	return NewTable(
		map[models.ServerStatus][]models.ServerStatus{
			models.ServerPending: {models.ServerReady, models.ServerPaused, models.ServerDeactivated},
			models.ServerReady:   {models.ServerStarted, models.ServerPaused, models.ServerDeactivated},
			models.ServerStarted: {
				models.ServerSentToClient, models.ServerComplete, models.ServerPaused,
				models.ServerErrored, models.ServerDeactivated,
			},
			models.ServerSentToClient: {
				models.ServerProcessingChildren, models.ServerComplete, models.ServerErrored,
				models.ServerPaused, models.ServerDeactivated,
			},
			models.ServerProcessingChildren: {models.ServerComplete, models.ServerDeactivated},
			models.ServerPaused:             {models.ServerStarted, models.ServerDeactivated},
			models.ServerErrored:            {models.ServerRetrying, models.ServerDeactivated},
			models.ServerRetrying:           {models.ServerStarted, models.ServerDeactivated},
			models.ServerComplete:           {models.ServerDeactivated},
			models.ServerDeactivated:        {models.ServerDeactivated},
		},
		map[models.ClientStatus][]models.ClientStatus{
			models.ClientPending:    {models.ClientReady},
			models.ClientReady:      {models.ClientReceived, models.ClientErrored},
			models.ClientReceived:   {models.ClientProcessing, models.ClientComplete, models.ClientErrored},
			models.ClientProcessing: {models.ClientProcessing, models.ClientComplete, models.ClientErrored},
			models.ClientErrored:    {models.ClientReady},
		},
	)
}

// ServerAllowed reports whether the server axis may move from -> to.
func (t Table) ServerAllowed(from, to models.ServerStatus) bool {
	return t.server[from][to]
}

// ClientAllowed reports whether the client axis may move from -> to.
func (t Table) ClientAllowed(from, to models.ClientStatus) bool {
	return t.client[from][to]
}
