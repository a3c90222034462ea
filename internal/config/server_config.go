package config

import (
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/util"
	"github.com/rs/zerolog"
)

type LoggerServer struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
}

type ManagementServer struct {
	ListenAddress string
	Enabled       bool
}

// Claim configures intake and validation of claim tokens.
type Claim struct {
	Room          string
	SigningSecret string `json:"-"`
	Issuer        string
	TokenDuration time.Duration
	AuthEnabled   bool
}

type Chain struct {
	RPCEndpoint string
	Timeout     time.Duration
}

type Submission struct {
	Endpoint string
	Timeout  time.Duration
	Enabled  bool
}

type Room struct {
	Prefix string
}

type TransportKind string

const (
	TransportRedis  TransportKind = "redis"
	TransportLibp2p TransportKind = "libp2p"
	TransportMemory TransportKind = "memory"
)

type Transport struct {
	Kind TransportKind

	RedisAddress  string
	RedisPassword string `json:"-"`
	RedisDB       int
	StreamTTL     time.Duration

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	Libp2pListen     []string
	Libp2pBootnodes  []string
	Libp2pPartyIndex int
	Libp2pNAT        bool

	// Libp2pMinPeers is how many subscribed peers a topic needs before a join
	// completes. Zero derives it from the signer set.
	Libp2pMinPeers    int
	Libp2pJoinTimeout time.Duration
}

type MPC struct {
	KeySharePath string
	// KeySharePassphrase opens a sealed key share document.
	KeySharePassphrase string `json:"-"`
	// SignerIDs restricts signing to a subset of the key's parties; empty means all parties.
	SignerIDs    []string
	PhaseTimeout time.Duration
	// StaleClaimAge is how old a replayed claim must be, relative to startup, to be
	// skipped without signing. Zero means two phase timeouts.
	StaleClaimAge time.Duration
	Workers       int
}

type StoreKind string

const (
	StoreRedis  StoreKind = "redis"
	StoreMemory StoreKind = "memory"
)

type Store struct {
	Kind      StoreKind
	RecordTTL time.Duration
}

type Server struct {
	Logger     LoggerServer
	Management ManagementServer
	Claim      Claim
	Chain      Chain
	Submission Submission
	Room       Room
	Transport  Transport
	MPC        MPC
	Store      Store
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
func DefaultServiceConfigFromEnv() Server {
	return Server{
		Logger: LoggerServer{
			Level:              util.LogLevelFromString(util.GetEnv("SERVER_LOGGER_LEVEL", zerolog.InfoLevel.String())),
			PrettyPrintConsole: util.GetEnvAsBool("SERVER_LOGGER_PRETTY_PRINT_CONSOLE", false),
		},
		Management: ManagementServer{
			ListenAddress: util.GetEnv("SERVER_MANAGEMENT_LISTEN_ADDRESS", ":8080"),
			Enabled:       util.GetEnvAsBool("SERVER_MANAGEMENT_ENABLED", true),
		},
		Claim: Claim{
			Room:          util.GetEnv("CLAIM_ROOM", "block-hashes"),
			SigningSecret: util.GetEnv("CLAIM_JWT_SECRET", ""),
			Issuer:        util.GetEnv("CLAIM_JWT_ISSUER", ""),
			TokenDuration: util.GetEnvAsDuration("CLAIM_TOKEN_DURATION", 5*time.Minute),
			AuthEnabled:   util.GetEnvAsBool("CLAIM_AUTH_ENABLED", true),
		},
		Chain: Chain{
			RPCEndpoint: util.GetEnv("CHAIN_RPC_ENDPOINT", "http://localhost:8545"),
			Timeout:     util.GetEnvAsDuration("CHAIN_RPC_TIMEOUT", 10*time.Second),
		},
		Submission: Submission{
			Endpoint: util.GetEnv("SUBMISSION_ENDPOINT", ""),
			Timeout:  util.GetEnvAsDuration("SUBMISSION_TIMEOUT", 10*time.Second),
			Enabled:  util.GetEnvAsBool("SUBMISSION_ENABLED", false),
		},
		Room: Room{
			Prefix: util.GetEnv("ROOM_PREFIX", "signing"),
		},
		Transport: Transport{
			Kind:              TransportKind(util.GetEnv("TRANSPORT_KIND", string(TransportRedis))),
			RedisAddress:      util.GetEnv("TRANSPORT_REDIS_ADDRESS", "localhost:6379"),
			RedisPassword:     util.GetEnv("TRANSPORT_REDIS_PASSWORD", ""),
			RedisDB:           util.GetEnvAsInt("TRANSPORT_REDIS_DB", 0),
			StreamTTL:         util.GetEnvAsDuration("TRANSPORT_STREAM_TTL", time.Hour),
			TLSEnabled:        util.GetEnvAsBool("TRANSPORT_TLS_ENABLED", false),
			TLSCertFile:       util.GetEnv("TRANSPORT_TLS_CERT_FILE", "certs/party-a.crt"),
			TLSKeyFile:        util.GetEnv("TRANSPORT_TLS_KEY_FILE", "certs/party-a.key"),
			TLSCAFile:         util.GetEnv("TRANSPORT_TLS_CA_FILE", "certs/ca.crt"),
			Libp2pListen:      util.GetEnvAsStringArr("TRANSPORT_LIBP2P_LISTEN", []string{"/ip4/0.0.0.0/tcp/4001"}),
			Libp2pBootnodes:   util.GetEnvAsStringArr("TRANSPORT_LIBP2P_BOOTNODES", []string{}),
			Libp2pPartyIndex:  util.GetEnvAsInt("TRANSPORT_LIBP2P_PARTY_INDEX", 0),
			Libp2pNAT:         util.GetEnvAsBool("TRANSPORT_LIBP2P_NAT", false),
			Libp2pMinPeers:    util.GetEnvAsInt("TRANSPORT_LIBP2P_MIN_PEERS", 0),
			Libp2pJoinTimeout: util.GetEnvAsDuration("TRANSPORT_LIBP2P_JOIN_TIMEOUT", time.Minute),
		},
		MPC: MPC{
			KeySharePath:       util.GetEnv("MPC_KEY_SHARE_PATH", "local-share.json"),
			KeySharePassphrase: util.GetEnv("MPC_KEY_SHARE_PASSPHRASE", ""),
			SignerIDs:          util.GetEnvAsStringArr("MPC_SIGNER_IDS", []string{}),
			PhaseTimeout:       util.GetEnvAsDuration("MPC_PHASE_TIMEOUT", 2*time.Minute),
			StaleClaimAge:      util.GetEnvAsDuration("MPC_STALE_CLAIM_AGE", 0),
			Workers:            util.GetEnvAsInt("MPC_WORKERS", 0),
		},
		Store: Store{
			Kind:      StoreKind(util.GetEnv("STORE_KIND", string(StoreRedis))),
			RecordTTL: util.GetEnvAsDuration("STORE_RECORD_TTL", 7*24*time.Hour),
		},
	}
}
