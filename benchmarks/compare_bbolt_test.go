// Package benchmarks compares cowdb against go.etcd.io/bbolt on an
// identical workload, the way the teacher repo benchmarked gdbx
// against its own B+tree peers.
package benchmarks

import (
	"encoding/binary"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/nkconnor/cowdb"
	bolt "go.etcd.io/bbolt"
)

const benchBucket = "bench"

func openCowdb(b *testing.B, numKeys int) *cowdb.Env {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.cowdb")
	env, err := cowdb.Open(path, cowdb.Options{NoSync: true})
	if err != nil {
		b.Fatal(err)
	}
	key := make([]byte, 8)
	val := make([]byte, 32)
	if err := env.Update(func(txn *cowdb.Txn) error {
		for i := 0; i < numKeys; i++ {
			binary.BigEndian.PutUint64(key, uint64(i))
			if err := txn.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		b.Fatal(err)
	}
	return env
}

func openBoltDB(b *testing.B, numKeys int) *bolt.DB {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.bolt")
	db, err := bolt.Open(path, 0o600, &bolt.Options{NoSync: true})
	if err != nil {
		b.Fatal(err)
	}
	key := make([]byte, 8)
	val := make([]byte, 32)
	if err := db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(benchBucket))
		if err != nil {
			return err
		}
		for i := 0; i < numKeys; i++ {
			binary.BigEndian.PutUint64(key, uint64(i))
			if err := bucket.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		b.Fatal(err)
	}
	return db
}

var writeSizes = []int{1_000, 10_000, 100_000}

func BenchmarkSeqPut(b *testing.B) {
	for _, n := range writeSizes {
		b.Run(formatSize(n)+"/cowdb", func(b *testing.B) { benchSeqPutCowdb(b, n) })
		b.Run(formatSize(n)+"/bolt", func(b *testing.B) { benchSeqPutBolt(b, n) })
	}
}

func BenchmarkRandPut(b *testing.B) {
	for _, n := range writeSizes {
		b.Run(formatSize(n)+"/cowdb", func(b *testing.B) { benchRandPutCowdb(b, n) })
		b.Run(formatSize(n)+"/bolt", func(b *testing.B) { benchRandPutBolt(b, n) })
	}
}

func BenchmarkCursorScan(b *testing.B) {
	for _, n := range writeSizes {
		b.Run(formatSize(n)+"/cowdb", func(b *testing.B) { benchCursorScanCowdb(b, n) })
		b.Run(formatSize(n)+"/bolt", func(b *testing.B) { benchCursorScanBolt(b, n) })
	}
}

func formatSize(n int) string {
	switch {
	case n >= 1_000_000:
		return strconv.Itoa(n/1_000_000) + "M"
	case n >= 1_000:
		return strconv.Itoa(n/1_000) + "k"
	default:
		return strconv.Itoa(n)
	}
}

func shuffledOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := len(order) - 1; i > 0; i-- {
		j := int(uint64(i*17+31) % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func benchSeqPutCowdb(b *testing.B, numKeys int) {
	env := openCowdb(b, numKeys)
	defer env.Close()

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := env.Update(func(txn *cowdb.Txn) error {
			binary.BigEndian.PutUint64(key, uint64(i%numKeys))
			return txn.Put(key, val)
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func benchSeqPutBolt(b *testing.B, numKeys int) {
	db := openBoltDB(b, numKeys)
	defer db.Close()

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := db.Update(func(tx *bolt.Tx) error {
			binary.BigEndian.PutUint64(key, uint64(i%numKeys))
			return tx.Bucket([]byte(benchBucket)).Put(key, val)
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandPutCowdb(b *testing.B, numKeys int) {
	env := openCowdb(b, numKeys)
	defer env.Close()
	order := shuffledOrder(numKeys)

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		j := order[i%numKeys]
		if err := env.Update(func(txn *cowdb.Txn) error {
			binary.BigEndian.PutUint64(key, uint64(j))
			return txn.Put(key, val)
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandPutBolt(b *testing.B, numKeys int) {
	db := openBoltDB(b, numKeys)
	defer db.Close()
	order := shuffledOrder(numKeys)

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		j := order[i%numKeys]
		if err := db.Update(func(tx *bolt.Tx) error {
			binary.BigEndian.PutUint64(key, uint64(j))
			return tx.Bucket([]byte(benchBucket)).Put(key, val)
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func benchCursorScanCowdb(b *testing.B, numKeys int) {
	env := openCowdb(b, numKeys)
	defer env.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := env.View(func(txn *cowdb.Txn) error {
			c, err := txn.Cursor()
			if err != nil {
				return err
			}
			ok, err := c.Seek(cowdb.CursorFirst, nil)
			if err != nil {
				return err
			}
			for ok {
				if _, _, err := c.Get(); err != nil {
					return err
				}
				ok, err = c.Seek(cowdb.CursorNext, nil)
				if err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func benchCursorScanBolt(b *testing.B, numKeys int) {
	db := openBoltDB(b, numKeys)
	defer db.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket([]byte(benchBucket)).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
			}
			return nil
		}); err != nil {
			b.Fatal(err)
		}
	}
}
