package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches vendor and product names from the USB ID database.
type Database struct {
	mu       sync.RWMutex
	paths    []string
	once     sync.Once
	found    bool
	vendors  map[uint16]string
	products map[uint32]string
}

// New returns a database that searches paths, or DefaultPaths when none
// are given. Nothing is read until the first lookup or Load.
func New(paths ...string) *Database {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &Database{
		paths:    paths,
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
}

// Load reads the first database file that exists. It runs once; later calls
// report the first outcome.
func (db *Database) Load() bool {
	db.once.Do(func() {
		for _, path := range db.paths {
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			err = db.Parse(f)
			f.Close()
			if err == nil {
				db.mu.Lock()
				db.found = true
				db.mu.Unlock()
				return
			}
		}
	})
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.found
}

// Parse merges entries in usb.ids format from r. Vendor lines are
// "vvvv  Name"; product lines under a vendor are "\tpppp  Name". Any other
// top-level section (classes, languages) ends the vendor list.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var vid uint16
	inVendor := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '\t' {
			if !inVendor || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, ok := splitEntry(line[1:]); ok {
				db.products[uint32(vid)<<16|uint32(id)] = name
			}
			continue
		}
		id, name, ok := splitEntry(line)
		inVendor = ok
		if ok {
			vid = id
			db.vendors[vid] = name
		}
	}
	return sc.Err()
}

func splitEntry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(s[5:]), true
}

// LookupVendor returns the vendor name for vid, or "".
func (db *Database) LookupVendor(vid uint16) string {
	db.Load()
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// LookupProduct returns the product name for vid:pid, or "".
func (db *Database) LookupProduct(vid, pid uint16) string {
	db.Load()
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Describe returns "Vendor Product" for display, falling back to the
// numeric identity for whatever part is unknown.
func (db *Database) Describe(vid, pid uint16) string {
	vendor := db.LookupVendor(vid)
	if vendor == "" {
		vendor = fmt.Sprintf("vendor %04x", vid)
	}
	product := db.LookupProduct(vid, pid)
	if product == "" {
		product = fmt.Sprintf("product %04x", pid)
	}
	return vendor + " " + product
}
