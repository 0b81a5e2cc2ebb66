package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserInfo_GetDefaultsEmpty(t *testing.T) {
	u := NewUserInfo()
	assert.Equal(t, "", u.Get("alice"))
}

func TestUserInfo_PutThenGet(t *testing.T) {
	u := NewUserInfo()
	u.Put("alice", "some-opaque-blob")
	assert.Equal(t, "some-opaque-blob", u.Get("alice"))

	u.Put("alice", "updated")
	assert.Equal(t, "updated", u.Get("alice"))
}

func TestUserInfo_ConcurrentWrites(t *testing.T) {
	u := NewUserInfo()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u.Put("alice", "v")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, "v", u.Get("alice"))
}

func TestRevokedLinks(t *testing.T) {
	r := NewRevokedLinks()
	assert.False(t, r.IsRevoked("doc.docx"))

	r.Revoke("doc.docx")
	assert.True(t, r.IsRevoked("doc.docx"))
	assert.False(t, r.IsRevoked("other.docx"))
}
