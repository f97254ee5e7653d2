// Package mqtt provides MQTT client connectivity for changeset transport.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing change batches on per-site topics, bounded by MaxPayloadSize
//   - Subscribing to every site's batches, with topic and site checks
//   - Last Will and Testament (LWT) presence for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Every harness database syncing the same db_id connects to one broker.
// Each site publishes its change batches on its own topic and subscribes
// to the wildcard covering all sites:
//
//	crsql/{db_id}/changes/{site_id}    change batches from one site
//	crsql/{db_id}/presence/{client_id} retained online/offline status
//
// # Security Considerations
//
//   - TLS should be enabled whenever the broker is not on localhost (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Sync.DBID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeBatches(cfg.Sync.DBID, 1, func(b changeset.Batch) error {
//	    log.Printf("batch %s from %s: %d changes", b.ID, b.SiteID, len(b.Changes))
//	    return nil
//	})
//
//	err = client.PublishBatch(cfg.Sync.DBID, changeset.NewBatch(siteID, since, changes), 1)
//
// Tests that need a broker carry the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
