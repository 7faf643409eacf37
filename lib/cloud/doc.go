// Package cloud assembles the components of a node into a running member of a
// cloud.
//
// A Node owns one instance of every layer:
//
//	cmd (cobra)             admin server (rpc/server, chi)
//	     │                          │
//	     └──────────── Node ────────┘
//	                    │
//	   mr.IEngine   lockmgr.ILockManager
//	        │              │
//	        └── store.IStore ── persist.IBackend
//	                 │
//	        messenger.IMessenger ── sched.IScheduler
//	                 │
//	   peer.Registry + codec.Registry + transport.ITransport
//
// All components of a node register their metrics in the node's VictoriaMetrics
// set and their timers in its go-metrics registry, both served by the admin API.
//
// Usage:
//
//	config := common.DefaultNodeConfig("127.0.0.1:7000")
//	config.Members = []string{"127.0.0.1:7000", "127.0.0.1:7001"}
//	n, err := cloud.NewNode(config, nil, nil)
//	if err != nil {
//		return err
//	}
//	if err := n.Start(); err != nil {
//		return err
//	}
//	defer n.Close()
//
//	k := n.Store().Key("greeting")
//	_, err = n.Store().Put(ctx, k, store.NewValue([]byte("hello")))
//
// The cloudtest subpackage starts whole clouds on an in-process network.
package cloud
