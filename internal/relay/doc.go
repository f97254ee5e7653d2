// Package relay streams cr-sqlite changes between sites over MQTT.
//
// Each relay owns one database session and runs two workers:
//
//   - outbound: polls crsql_changes every poll interval and publishes the
//     rows recorded since the last successful publish as a changeset.Batch
//     on crsql/{db_id}/changes/{site_id}
//   - inbound: applies batches other sites publish on crsql/{db_id}/changes/+,
//     skipping batches that originate here or that were already merged
//
// Progress from each peer is kept in the harness_peers table, so a restarted
// relay neither re-applies nor misses a peer's changes. The outbound cursor
// is held in memory; after a restart a relay republishes from the start and
// peers drop what they have already seen.
//
// # Usage
//
//	r, err := relay.New(relay.NewSessionStore(db), mqttClient, relay.Options{
//	    DBID:         cfg.Sync.DBID,
//	    PollInterval: cfg.GetPollInterval(),
//	    BatchSize:    cfg.Sync.BatchSize,
//	    QoS:          byte(cfg.MQTT.QoS),
//	    Recorder:     influxClient,
//	    Logger:       log,
//	})
//	if err != nil {
//	    return err
//	}
//	return r.Run(ctx) // blocks until ctx is cancelled
package relay
