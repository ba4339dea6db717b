package cowdb

import "testing"

func seedCursorDB(t *testing.T) *Env {
	t.Helper()
	env, _ := mustOpen(t, Options{})
	if err := env.Update(func(txn *Txn) error {
		for _, k := range []string{"b", "d", "f", "h"} {
			if err := txn.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return env
}

func TestCursorSetExactMatch(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		ok, err := c.Seek(CursorSet, []byte("d"))
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("expected CursorSet to find an exact key")
		}
		k, v, err := c.Get()
		if err != nil {
			return err
		}
		if string(k) != "d" || string(v) != "d" {
			t.Fatalf("got (%q, %q), want (d, d)", k, v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCursorSetPositionsAtSuccessor(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		// "c" is absent; CursorSet should land on the next key, "d".
		ok, err := c.Seek(CursorSet, []byte("c"))
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("expected CursorSet to land on a successor key")
		}
		k, _, err := c.Get()
		if err != nil {
			return err
		}
		if string(k) != "d" {
			t.Fatalf("got %q, want d", k)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCursorSetExactMissRejected(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		ok, err := c.Seek(CursorSetExact, []byte("c"))
		if err != nil {
			return err
		}
		if ok {
			t.Fatal("expected CursorSetExact to reject a non-exact match")
		}
		if c.Valid() {
			t.Fatal("cursor should be invalid after a failed exact seek")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCursorSetPastLastKey(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		ok, err := c.Seek(CursorSet, []byte("z"))
		if err != nil {
			return err
		}
		if ok {
			t.Fatal("expected CursorSet past the last key to fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCursorGetOnInvalidCursor(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		if _, _, err := c.Get(); !IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCursorNextAfterSetResumesOrder(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		if ok, err := c.Seek(CursorSet, []byte("d")); err != nil || !ok {
			return err
		}
		var got []string
		for {
			k, _, err := c.Get()
			if err != nil {
				return err
			}
			got = append(got, string(k))
			ok, err := c.Seek(CursorNext, nil)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
		want := []string{"d", "f", "h"}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCursorCloseInvalidates(t *testing.T) {
	env := seedCursorDB(t)
	defer env.Close()

	err := env.View(func(txn *Txn) error {
		c, err := txn.Cursor()
		if err != nil {
			return err
		}
		if _, err := c.Seek(CursorFirst, nil); err != nil {
			return err
		}
		c.Close()
		if c.Valid() {
			t.Fatal("expected cursor to be invalid after Close")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}
