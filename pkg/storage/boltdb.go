package storage

import (
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRootGen   = []byte("root_generation")
	bucketRepoData  = []byte("repository_data")
	bucketSnapInfo  = []byte("snapshot_info")
	bucketIndexMeta = []byte("index_metadata")
	bucketShardGen  = []byte("shard_generation")
)

// BoltStore implements RepositoryStore using a local BoltDB file as the
// stand-in for a real object-storage repository backend (S3, GCS, Azure
// Blob). It exists so the engine has a complete, exercisable repository
// implementation without depending on any external cloud account; a
// production deployment would replace it with an object-store-backed
// RepositoryStore while keeping the RepositoryDriver logic unchanged.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed repository
// store under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "repository.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open repository database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketRootGen, bucketRepoData, bucketSnapInfo, bucketIndexMeta, bucketShardGen}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
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

const repoGenEmpty int64 = -1

func (s *BoltStore) GetRootGeneration(repo string) (int64, error) {
	var gen int64 = repoGenEmpty
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRootGen)
		data := b.Get([]byte(repo))
		if data == nil {
			return nil
		}
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt root generation for %s: %w", repo, err)
		}
		gen = n
		return nil
	})
	return gen, err
}

func (s *BoltStore) PutRootGeneration(repo string, expectedPrevious, next int64, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		genBucket := tx.Bucket(bucketRootGen)
		current := genBucket.Get([]byte(repo))

		var currentGen int64 = repoGenEmpty
		if current != nil {
			n, err := strconv.ParseInt(string(current), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt root generation for %s: %w", repo, err)
			}
			currentGen = n
		}
		if currentGen != expectedPrevious {
			return fmt.Errorf("repository %s generation mismatch: expected %d, found %d", repo, expectedPrevious, currentGen)
		}

		if err := genBucket.Put([]byte(repo), []byte(strconv.FormatInt(next, 10))); err != nil {
			return err
		}

		dataBucket := tx.Bucket(bucketRepoData)
		return dataBucket.Put(repoDataKey(repo, next), data)
	})
}

func repoDataKey(repo string, gen int64) []byte {
	return []byte(repo + "/" + strconv.FormatInt(gen, 10))
}

func (s *BoltStore) GetRepositoryData(repo string) ([]byte, error) {
	gen, err := s.GetRootGeneration(repo)
	if err != nil {
		return nil, err
	}
	if gen == repoGenEmpty {
		return nil, nil
	}
	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepoData)
		v := b.Get(repoDataKey(repo, gen))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func (s *BoltStore) PutSnapshotInfo(repo, snapshotUUID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapInfo)
		return b.Put([]byte(repo+"/"+snapshotUUID), data)
	})
}

func (s *BoltStore) GetSnapshotInfo(repo, snapshotUUID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapInfo)
		v := b.Get([]byte(repo + "/" + snapshotUUID))
		if v == nil {
			return fmt.Errorf("snapshot info not found: %s/%s", repo, snapshotUUID)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *BoltStore) DeleteSnapshotInfo(repo, snapshotUUID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapInfo)
		return b.Delete([]byte(repo + "/" + snapshotUUID))
	})
}

func (s *BoltStore) PutIndexMetadata(repo, indexUUID, metaUUID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexMeta)
		return b.Put([]byte(repo+"/"+indexUUID+"/"+metaUUID), data)
	})
}

func (s *BoltStore) GetIndexMetadata(repo, indexUUID, metaUUID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexMeta)
		v := b.Get([]byte(repo + "/" + indexUUID + "/" + metaUUID))
		if v == nil {
			return fmt.Errorf("index metadata not found: %s/%s/%s", repo, indexUUID, metaUUID)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func (s *BoltStore) PutShardGeneration(repo, indexUUID string, shardIndex int, generation string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShardGen)
		return b.Put(shardGenKey(repo, indexUUID, shardIndex), []byte(generation))
	})
}

func (s *BoltStore) GetShardGeneration(repo, indexUUID string, shardIndex int) (string, error) {
	var gen string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShardGen)
		v := b.Get(shardGenKey(repo, indexUUID, shardIndex))
		if v != nil {
			gen = string(v)
		}
		return nil
	})
	return gen, err
}

func shardGenKey(repo, indexUUID string, shardIndex int) []byte {
	return []byte(repo + "/" + indexUUID + "/" + strconv.Itoa(shardIndex))
}

func (s *BoltStore) DeleteRepository(repo string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRootGen, bucketRepoData, bucketSnapInfo, bucketIndexMeta, bucketShardGen} {
			b := tx.Bucket(name)
			c := b.Cursor()
			prefix := []byte(repo + "/")
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			if err := b.Delete([]byte(repo)); err != nil {
				return err
			}
		}
		return nil
	})
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
