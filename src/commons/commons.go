package commons

import (
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"time"

	"github.com/commonsnetwork/commonsync/src/anomaly"
	"github.com/commonsnetwork/commonsync/src/audit"
	"github.com/commonsnetwork/commonsync/src/backend"
	"github.com/commonsnetwork/commonsync/src/config"
	"github.com/commonsnetwork/commonsync/src/crypto/keys"
	"github.com/commonsnetwork/commonsync/src/net"
	"github.com/commonsnetwork/commonsync/src/node"
	"github.com/commonsnetwork/commonsync/src/quorum"
	"github.com/commonsnetwork/commonsync/src/recovery"
	"github.com/commonsnetwork/commonsync/src/service"
	"github.com/commonsnetwork/commonsync/src/trust"
)

// Commons is the engine: it assembles a node and its collaborators from a
// Config and manages their lifecycle.
type Commons struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.SecureTransport
	Registry  trust.Registry
	Store     backend.Store
	AuditLog  *audit.Log
	Gate      *quorum.Gate
	Detector  *anomaly.Detector
	Backend   *backend.Backend
	Service   *service.Service
	Signer    *node.Signer
	Recovery  *recovery.Recovery

	keyfile  *keys.EncryptedKeyfile
	metafile *keys.Metafile
}

// NewCommons instantiates an engine over a Config. Call Init before Run.
func NewCommons(config *config.Config) *Commons {
	engine := &Commons{
		Config: config,
	}

	return engine
}

func (c *Commons) initKey() error {
	c.keyfile = keys.NewEncryptedKeyfile(c.Config.Keyfile(), c.Config.SecretFile())
	c.metafile = keys.NewMetafile(c.Config.MetaFile())

	if c.Config.Key == nil {
		privKey, err := c.keyfile.ReadKey()
		if err != nil {
			c.Config.Logger().Warn("Cannot read private key from file", err)

			privKey, err = Keygen(c.Config.DataDir)
			if err != nil {
				c.Config.Logger().Error("Cannot generate a new private key", err)

				return err
			}

			c.Config.Logger().Info("Created a new key: ", keys.DIDFromPrivateKey(privKey))
		}

		c.Config.Key = privKey
	}

	moniker := c.Config.Moniker
	if moniker == "" {
		moniker = keys.DIDFromPrivateKey(c.Config.Key)
	}

	c.Signer = node.NewSigner(c.Config.Key, moniker)

	return nil
}

func (c *Commons) initRegistry() error {
	if !c.Config.Store {
		c.Registry = trust.NewInmemRegistry()

		c.Config.Logger().Debug("created new in-mem registry")
	} else {
		c.Config.Logger().WithField("path", c.Config.TrustDatabaseDir()).Debug("Attempting to load or create trust database")

		registry, err := trust.NewBadgerRegistry(c.Config.TrustDatabaseDir(), c.Config.Logger())
		if err != nil {
			return err
		}

		c.Registry = registry
	}

	// seed the web of trust from trust.json, skipping DIDs the registry
	// already knows so reboots do not archive live anchors
	anchorSet := trust.NewJSONAnchorSet(c.Config.DataDir)

	seed, err := anchorSet.Anchors()
	if err != nil {
		c.Config.Logger().WithError(err).Debug("No trust seed file")
	}

	for _, anchor := range seed {
		if _, ok := c.Registry.Anchor(anchor.DID); ok {
			continue
		}
		if err := c.Registry.Register(anchor.DID, anchor.PublicKey, anchor.Endorsers()); err != nil {
			return err
		}
		if anchor.Revoked {
			if err := c.Registry.Revoke(anchor.DID); err != nil {
				return err
			}
		}
	}

	// the local identity is registered, but trust must come from endorsers
	selfDID := c.Signer.DID()
	if _, ok := c.Registry.Anchor(selfDID); !ok {
		if err := c.Registry.Register(selfDID, c.Signer.PublicKeyBytes(), nil); err != nil {
			return err
		}
	}

	return nil
}

func (c *Commons) initStore() error {
	if !c.Config.Store {
		c.Store = backend.NewInmemStore()

		c.Config.Logger().Debug("created new in-mem store")
	} else {
		c.Config.Logger().WithField("path", c.Config.EventsDatabaseDir()).Debug("Attempting to load or create event database")

		store, err := backend.NewBadgerStore(c.Config.EventsDatabaseDir(), c.Config.Logger())
		if err != nil {
			return err
		}

		if store.Len() > 0 {
			c.Config.Logger().Debug("loaded badger store from existing database")
		} else {
			c.Config.Logger().Debug("created new badger store from fresh database")
		}

		c.Store = store
	}

	return nil
}

func (c *Commons) initAudit() error {
	auditLog, err := audit.Open(c.Config.AuditFile(), c.Config.Logger())
	if err != nil {
		return err
	}

	c.AuditLog = auditLog

	return nil
}

func (c *Commons) initTransport() error {
	if c.Config.Transport != nil {
		c.Transport = c.Config.Transport
		return nil
	}

	_, transport := net.NewInmemTransport(c.Config.BindAddr)
	c.Transport = transport

	return nil
}

func (c *Commons) initBackend() error {
	c.Gate = quorum.NewGate(c.Config.Logger())

	c.Detector = anomaly.NewDetector(c.Config.Logger())
	c.Detector.Register(anomaly.NewRateAnalyzer(100, time.Minute))

	policy := backend.DefaultPolicy()
	policy.MinTrust = c.Config.MinTrust
	policy.MRequired = c.Config.MRequired

	c.Backend = backend.NewBackend(
		policy,
		c.Registry,
		c.Gate,
		c.AuditLog,
		c.Store,
		c.Detector,
		c.Config.Verifier,
		c.Config.Logger(),
	)

	return nil
}

func (c *Commons) initNode() error {
	nodeConf := node.NewConfig(
		c.Config.SyncInterval,
		c.Config.SyncLimit,
		c.Config.Logger().Logger,
	)

	c.Node = node.NewNode(
		nodeConf,
		c.Signer,
		c.Config.Peers,
		c.Backend,
		c.Transport,
	)

	if err := c.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	if c.Config.MaintenanceMode {
		c.Config.Logger().Debug("MaintenanceMode => Suspended")
		c.Node.Suspend()
	}

	return nil
}

func (c *Commons) initService() error {
	if !c.Config.NoService && c.Config.ServiceAddr != "" {
		c.Service = service.NewService(c.Config.ServiceAddr, c.Node, c.Config.Logger())
	}
	return nil
}

func (c *Commons) initRecovery() error {
	c.Recovery = recovery.New(c.Registry, c.Backend, c.keyfile, c.metafile, c.Config.Logger())
	return nil
}

// Init builds every component in dependency order. It is not safe to call Run
// before Init has returned without error.
func (c *Commons) Init() error {
	if c.Config.Bootstrap {
		c.Config.Store = true
	}

	if err := c.initKey(); err != nil {
		return err
	}

	if err := c.initRegistry(); err != nil {
		return err
	}

	if err := c.initStore(); err != nil {
		return err
	}

	if err := c.initAudit(); err != nil {
		return err
	}

	if err := c.initTransport(); err != nil {
		return err
	}

	if err := c.initBackend(); err != nil {
		return err
	}

	if c.Config.Bootstrap {
		if !c.Backend.VerifyChain() {
			return fmt.Errorf("audit chain verification failed on bootstrap")
		}
		c.Config.Logger().WithField("entries", c.AuditLog.Len()).Debug("Bootstrap: audit chain verified")
	}

	if err := c.initNode(); err != nil {
		return err
	}

	if err := c.initService(); err != nil {
		return err
	}

	if err := c.initRecovery(); err != nil {
		return err
	}

	return nil
}

// Run starts the HTTP service, when configured, and the node's main loop.
// This is a blocking call.
func (c *Commons) Run() {
	if c.Service != nil {
		go c.Service.Serve()
	}

	c.Node.Run(true)
}

// Shutdown stops the node and closes every component that holds a file or
// database handle.
func (c *Commons) Shutdown() {
	if c.Node != nil {
		c.Node.Shutdown()
	}
	if c.AuditLog != nil {
		c.AuditLog.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Registry != nil {
		c.Registry.Close()
	}
}

// Keygen generates a fresh identity under datadir: an encrypted keyfile, its
// envelope secret, and the first record of the key metadata file. It refuses
// to overwrite an existing key.
func Keygen(datadir string) (ed25519.PrivateKey, error) {
	keyfile := keys.NewEncryptedKeyfile(
		filepath.Join(datadir, config.DefaultKeyfile),
		filepath.Join(datadir, config.DefaultSecretFile),
	)

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("Another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	metafile := keys.NewMetafile(filepath.Join(datadir, config.DefaultMetaFile))

	rec := keys.MetaRecord{
		DID:       keys.DIDFromPrivateKey(privKey),
		PublicKey: keys.PublicKeyHex(keys.PublicKey(privKey)),
		CreatedAt: time.Now().Unix(),
	}
	if err := metafile.Append(rec); err != nil {
		return nil, err
	}

	return privKey, nil
}
