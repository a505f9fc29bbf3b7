package core

import "time"

// ServerConfig contains configuration for the benchmark servers.
type ServerConfig struct {
	// ListenAddress is the local address the servers bind to.
	ListenAddress string `json:"listen_address" yaml:"listenAddress"`

	// UDPPort is the port of the UDP throughput responder.
	UDPPort uint16 `json:"udp_port" yaml:"udpPort"`

	// TCPPort is the port of the TCP throughput sender.
	TCPPort uint16 `json:"tcp_port" yaml:"tcpPort"`

	// Backlog is the listen backlog of the TCP sender.
	Backlog int `json:"backlog" yaml:"backlog"`
}

// StackConfig contains configuration for the socket facility.
type StackConfig struct {
	// MaxSockets limits the number of simultaneously open sockets.
	MaxSockets int `json:"max_sockets" yaml:"maxSockets"`

	// Address, Gateway and SubnetMask describe the stack's interface.
	Address    string `json:"address" yaml:"address"`
	Gateway    string `json:"gateway" yaml:"gateway"`
	SubnetMask string `json:"subnet_mask" yaml:"subnetMask"`

	// TransferUnit is the default transfer size of the facility in bytes.
	TransferUnit int `json:"transfer_unit" yaml:"transferUnit"`

	// PollInterval bounds each blocking call before it reports "try again".
	PollInterval time.Duration `json:"poll_interval" yaml:"pollInterval"`

	// TOS and TTL are applied to every socket when non-zero.
	TOS int `json:"tos" yaml:"tos"`
	TTL int `json:"ttl" yaml:"ttl"`

	// ReuseAddr sets SO_REUSEADDR on bound sockets.
	ReuseAddr bool `json:"reuse_addr" yaml:"reuseAddr"`
}
