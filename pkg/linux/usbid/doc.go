// Package usbid resolves USB vendor and product IDs to names using the
// usb.ids database shipped with most Linux distributions.
//
// The device listing in the CLI uses it to label tokens:
//
//	db := usbid.New()
//	fmt.Println(db.Describe(0x0483, 0x5740))
//
// The database is searched in DefaultPaths and read lazily on first use.
// A missing database is not an error; lookups then return "".
package usbid
