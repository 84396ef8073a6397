package models

// ServerStatus is the orchestrator's own view of a node's lifecycle stage.
type ServerStatus string

const (
	ServerPending            ServerStatus = "pending"
	ServerReady              ServerStatus = "ready"
	ServerStarted            ServerStatus = "started"
	ServerSentToClient       ServerStatus = "sent_to_client"
	ServerProcessingChildren ServerStatus = "processing_children"
	ServerComplete           ServerStatus = "complete"
	ServerPaused             ServerStatus = "paused"
	ServerErrored            ServerStatus = "errored"
	ServerRetrying           ServerStatus = "retrying"
	ServerDeactivated        ServerStatus = "deactivated"
)

// ClientStatus is the remote worker's reported view of a node's lifecycle stage.
type ClientStatus string

const (
	ClientPending    ClientStatus = "pending"
	ClientReady      ClientStatus = "ready"
	ClientReceived   ClientStatus = "received"
	ClientProcessing ClientStatus = "processing"
	ClientComplete   ClientStatus = "complete"
	ClientErrored    ClientStatus = "errored"
)

// ServerStatuses lists every server status in lifecycle order.
func ServerStatuses() []ServerStatus {
	return []ServerStatus{
		ServerPending, ServerReady, ServerStarted, ServerSentToClient, ServerProcessingChildren,
		ServerComplete, ServerPaused, ServerErrored, ServerRetrying, ServerDeactivated,
	}
}

// ClientStatuses lists every client status in lifecycle order.
func ClientStatuses() []ClientStatus {
	return []ClientStatus{
		ClientPending, ClientReady, ClientReceived, ClientProcessing, ClientComplete, ClientErrored,
	}
}

// ValidServerStatus reports whether s names a known server status.
func ValidServerStatus(s string) bool {
	for _, status := range ServerStatuses() {
		if string(status) == s {
			return true
		}
	}

	return false
}

// ValidClientStatus reports whether s names a known client status.
func ValidClientStatus(s string) bool {
	for _, status := range ClientStatuses() {
		if string(status) == s {
			return true
		}
	}

	return false
}

// StatusType names one of the two status axes of a node.
type StatusType string

const (
	StatusTypeServer StatusType = "server"
	StatusTypeClient StatusType = "client"
)
