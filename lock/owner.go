package lock

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Owner describes the exclusive holder recorded in a lock file.
type Owner struct {
	ID         string
	PID        int
	Name       string
	AcquiredAt time.Time
}

func (o Owner) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "owner=%s\n", o.ID)
	fmt.Fprintf(&buf, "pid=%d\n", o.PID)
	fmt.Fprintf(&buf, "name=%s\n", strings.ReplaceAll(o.Name, "\n", " "))
	fmt.Fprintf(&buf, "acquired=%s\n", o.AcquiredAt.UTC().Format(time.RFC3339Nano))
	return buf.Bytes()
}

// ReadOwner reads the owner record from a lock file. It returns false if the
// file is empty, which is the case when nobody holds it exclusively.
func ReadOwner(lockFile string) (Owner, bool, error) {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		return Owner{}, false, fmt.Errorf("read lock file: %w", err)
	}

	var owner Owner
	found := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		found = true
		switch key {
		case "owner":
			owner.ID = value
		case "pid":
			owner.PID, _ = strconv.Atoi(value)
		case "name":
			owner.Name = value
		case "acquired":
			owner.AcquiredAt, _ = time.Parse(time.RFC3339Nano, value)
		}
	}
	return owner, found, nil
}
