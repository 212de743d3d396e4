package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fabricsub/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes        = []byte("nodes")
	bucketTunnels      = []byte("tunnels")
	bucketPcs          = []byte("pcs")
	bucketVpcs         = []byte("vpcs")
	bucketVnids        = []byte("vnids")
	bucketEpgs         = []byte("epgs")
	bucketSubnets      = []byte("subnets")
	bucketSettings     = []byte("settings")
	bucketQueueStats   = []byte("queue_stats")
	bucketEndpointHist = []byte("endpoint_history")
)

// BoltStore implements Store on an embedded bbolt database. Every
// fabric-scoped table uses a composite key "<fabric>/<id>" within its own
// bucket, so ListX(fabric) and the flush-before-bulk-insert helpers can
// range over a fabric's prefix cheaply.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fabricsub.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes, bucketTunnels, bucketPcs, bucketVpcs, bucketVnids,
			bucketEpgs, bucketSubnets, bucketSettings, bucketQueueStats,
			bucketEndpointHist,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func compositeKey(fabric, id string) []byte {
	return []byte(fabric + "/" + id)
}

// deleteByFabric removes every key in bucket whose key starts with
// "<fabric>/", implementing the "flush before bulk insert" discipline
// (§4.4) without a secondary index.
func deleteByFabric(tx *bolt.Tx, bucket []byte, fabric string) error {
	b := tx.Bucket(bucket)
	prefix := []byte(fabric + "/")
	c := b.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func forEachInFabric[T any](tx *bolt.Tx, bucket []byte, fabric string, fn func(*T)) error {
	b := tx.Bucket(bucket)
	prefix := []byte(fabric + "/")
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var row T
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("storage: unmarshal row: %w", err)
		}
		fn(&row)
	}
	return nil
}

// --- Nodes ---

func (s *BoltStore) UpsertNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put(compositeKey(node.Fabric, node.NodeID), data)
	})
}

func (s *BoltStore) GetNode(fabric, nodeID string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get(compositeKey(fabric, nodeID))
		if data == nil {
			return fmt.Errorf("storage: node not found: %s/%s", fabric, nodeID)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes(fabric string) ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Node](tx, bucketNodes, fabric, func(n *types.Node) {
			out = append(out, n)
		})
	})
	return out, err
}

func (s *BoltStore) DeleteNodesByFabric(fabric string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteByFabric(tx, bucketNodes, fabric)
	})
}

// --- Tunnels ---

func (s *BoltStore) BulkInsertTunnels(fabric string, tunnels []*types.Tunnel) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteByFabric(tx, bucketTunnels, fabric); err != nil {
			return err
		}
		b := tx.Bucket(bucketTunnels)
		for _, t := range tunnels {
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			id := fmt.Sprintf("%s/%s/%s", t.Node, t.Intf, t.Dst)
			if err := b.Put(compositeKey(fabric, id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListTunnels(fabric string) ([]*types.Tunnel, error) {
	var out []*types.Tunnel
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Tunnel](tx, bucketTunnels, fabric, func(t *types.Tunnel) {
			out = append(out, t)
		})
	})
	return out, err
}

// --- Port-channels ---

func (s *BoltStore) BulkInsertPcs(fabric string, pcs []*types.Pc) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteByFabric(tx, bucketPcs, fabric); err != nil {
			return err
		}
		b := tx.Bucket(bucketPcs)
		for _, pc := range pcs {
			data, err := json.Marshal(pc)
			if err != nil {
				return err
			}
			id := pc.Node + "/" + pc.Name
			if err := b.Put(compositeKey(fabric, id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListPcs(fabric string) ([]*types.Pc, error) {
	var out []*types.Pc
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Pc](tx, bucketPcs, fabric, func(p *types.Pc) {
			out = append(out, p)
		})
	})
	return out, err
}

// --- Vpc bindings ---

func (s *BoltStore) BulkInsertVpcs(fabric string, vpcs []*types.Vpc) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteByFabric(tx, bucketVpcs, fabric); err != nil {
			return err
		}
		b := tx.Bucket(bucketVpcs)
		for _, v := range vpcs {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			id := v.Node + "/" + v.PcName
			if err := b.Put(compositeKey(fabric, id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListVpcs(fabric string) ([]*types.Vpc, error) {
	var out []*types.Vpc
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Vpc](tx, bucketVpcs, fabric, func(v *types.Vpc) {
			out = append(out, v)
		})
	})
	return out, err
}

// --- Vnids ---

func (s *BoltStore) BulkInsertVnids(fabric string, vnids []*types.Vnid) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteByFabric(tx, bucketVnids, fabric); err != nil {
			return err
		}
		b := tx.Bucket(bucketVnids)
		for _, v := range vnids {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			id := fmt.Sprintf("%d", v.Vnid)
			if err := b.Put(compositeKey(fabric, id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListVnids(fabric string) ([]*types.Vnid, error) {
	var out []*types.Vnid
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Vnid](tx, bucketVnids, fabric, func(v *types.Vnid) {
			out = append(out, v)
		})
	})
	return out, err
}

func (s *BoltStore) GetVnid(fabric string, vnid uint32) (*types.Vnid, error) {
	var out types.Vnid
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVnids).Get(compositeKey(fabric, fmt.Sprintf("%d", vnid)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("storage: vnid not found: %s/%d", fabric, vnid)
	}
	return &out, nil
}

// --- Epgs ---

func (s *BoltStore) BulkInsertEpgs(fabric string, epgs []*types.Epg) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteByFabric(tx, bucketEpgs, fabric); err != nil {
			return err
		}
		b := tx.Bucket(bucketEpgs)
		for _, e := range epgs {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(compositeKey(fabric, e.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListEpgs(fabric string) ([]*types.Epg, error) {
	var out []*types.Epg
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Epg](tx, bucketEpgs, fabric, func(e *types.Epg) {
			out = append(out, e)
		})
	})
	return out, err
}

// --- Subnets ---

func (s *BoltStore) BulkInsertSubnets(fabric string, subnets []*types.Subnet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := deleteByFabric(tx, bucketSubnets, fabric); err != nil {
			return err
		}
		b := tx.Bucket(bucketSubnets)
		for i, sn := range subnets {
			data, err := json.Marshal(sn)
			if err != nil {
				return err
			}
			// Same ip may legitimately appear on multiple BDs (§3); index
			// by bd+ip+position to avoid silently overwriting duplicates.
			id := fmt.Sprintf("%d/%s/%d", sn.Bd, sn.IP, i)
			if err := b.Put(compositeKey(fabric, id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListSubnets(fabric string) ([]*types.Subnet, error) {
	var out []*types.Subnet
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.Subnet](tx, bucketSubnets, fabric, func(sn *types.Subnet) {
			out = append(out, sn)
		})
	})
	return out, err
}

// --- Settings ---

func (s *BoltStore) GetSettings(fabric string) (*types.Settings, error) {
	var out types.Settings
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get([]byte(fabric))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("storage: settings not found: %s", fabric)
	}
	return &out, nil
}

func (s *BoltStore) SaveSettings(settings *types.Settings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSettings).Put([]byte(settings.Fabric), data)
	})
}

// --- QueueStats ---

func (s *BoltStore) UpsertQueueStats(rows []*types.QueueStats) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueStats)
		for _, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			id := row.Proc + "/" + row.Queue
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListQueueStats(proc string) ([]*types.QueueStats, error) {
	var out []*types.QueueStats
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueueStats)
		prefix := []byte(proc + "/")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var row types.QueueStats
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			out = append(out, &row)
		}
		return nil
	})
	return out, err
}

// --- EndpointHistory (read-only from the subscriber's side) ---

func (s *BoltStore) ListEndpointHistory(fabric string) ([]*types.EndpointHistory, error) {
	var out []*types.EndpointHistory
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInFabric[types.EndpointHistory](tx, bucketEndpointHist, fabric, func(h *types.EndpointHistory) {
			out = append(out, h)
		})
	})
	return out, err
}
