// Package model defines the household document: the single shared record
// holding one family's scheduling data, plus the device bindings that map
// physical devices to the people operating them.
package model

// Roles for people and device bindings.
const (
	RoleParent = "parent"
	RoleChild  = "child"
)

// Block identifiers. A day is divided into three time-of-day blocks; the
// middle one is labeled "School" on school days and disallows tasks there.
const (
	BlockPre    = "pre"
	BlockSchool = "school"
	BlockPost   = "post"
)

// Display kinds for tasks and library entries.
const (
	DisplayImage = "image"
	DisplayText  = "text"
)

// Timer statuses.
const (
	TimerRunning = "running"
	TimerPaused  = "paused"
)

type Person struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Avatar  string  `json:"avatar"`
	PINHash *string `json:"pinHash,omitempty"`
}

type Task struct {
	ID              string   `json:"id"`
	AssigneeID      string   `json:"assigneeId"`
	Title           string   `json:"title"`
	Display         string   `json:"displayType"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	Days            []int    `json:"days"`
	Blocks          []string `json:"blocks"`
	DurationMinutes int      `json:"durationMinutes"`
	LibraryID       string   `json:"libraryId,omitempty"`
	// SchoolAllowed lets a task render in the school block even on days
	// where that block disallows tasks.
	SchoolAllowed bool `json:"schoolAllowed,omitempty"`
}

type LibraryEntry struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Display         string   `json:"displayType"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	DefaultBlocks   []string `json:"defaultBlocks"`
	DefaultDuration int      `json:"defaultDuration"`
	Category        string   `json:"category,omitempty"`
}

// Completion marks one occurrence as done. Existence of a record for a
// (taskId, userId, date, block) tuple means done; absence means not done.
type Completion struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
	Date   string `json:"date"`
	Block  string `json:"block"`
}

// Timer tracks a countdown for one occurrence. ID is the occurrence tuple
// joined with "__"; see TimerID.
type Timer struct {
	ID           string `json:"id"`
	TaskID       string `json:"taskId"`
	UserID       string `json:"userId"`
	Date         string `json:"date"`
	Block        string `json:"block"`
	RemainingSec int    `json:"remainingSec"`
	Status       string `json:"status"`
}

// BlockSpec describes one time block of a day.
type BlockSpec struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Start      string `json:"start"`
	End        string `json:"end"`
	AllowTasks bool   `json:"allowTasks"`
}

// DayOverride replaces the computed weekday blocks for one user on one date.
type DayOverride struct {
	Pre    BlockSpec `json:"pre"`
	School BlockSpec `json:"school"`
	Post   BlockSpec `json:"post"`
}

// DeviceBinding maps a physical device to the person operating it.
type DeviceBinding struct {
	DeviceID       string `json:"deviceId"`
	FamID          string `json:"famId"`
	Label          string `json:"label"`
	Role           string `json:"role"`
	UserID         string `json:"userId,omitempty"`
	ForceChildMode bool   `json:"forceChildMode"`
	LastSeen       int64  `json:"lastSeen"`
	Platform       string `json:"platform,omitempty"`
}

// Document is the household document. Each exported field is one top-level
// collection; collections are always written wholesale on save.
type Document struct {
	Users          []Person                                  `json:"users"`
	Tasks          []Task                                    `json:"tasks"`
	Library        []LibraryEntry                            `json:"library"`
	Suppressions   []string                                  `json:"suppressions"`
	Completions    []Completion                              `json:"completions"`
	Timers         []Timer                                   `json:"timers"`
	Devices        []DeviceBinding                           `json:"devices"`
	SortOrders     map[string][]string                       `json:"sortOrders"`
	BlockOverrides map[string]map[string]DayOverride         `json:"blockOverrides"`
	Planned        map[string]map[string]map[string][]string `json:"planned"`
}

// Collection names as they appear on the wire and in the local cache.
const (
	ColUsers          = "users"
	ColTasks          = "tasks"
	ColLibrary        = "library"
	ColSuppressions   = "suppressions"
	ColCompletions    = "completions"
	ColTimers         = "timers"
	ColDevices        = "devices"
	ColSortOrders     = "sortOrders"
	ColBlockOverrides = "blockOverrides"
	ColPlanned        = "planned"
)

// ArrayCollections lists the collections whose wire shape is a JSON array.
var ArrayCollections = []string{
	ColUsers, ColTasks, ColLibrary, ColSuppressions,
	ColCompletions, ColTimers, ColDevices,
}

// MapCollections lists the collections whose wire shape is a JSON object.
var MapCollections = []string{ColSortOrders, ColBlockOverrides, ColPlanned}

// Collections lists every top-level collection name.
var Collections = append(append([]string{}, ArrayCollections...), MapCollections...)

// IsArrayCollection reports whether name is an array-shaped collection.
func IsArrayCollection(name string) bool {
	for _, c := range ArrayCollections {
		if c == name {
			return true
		}
	}
	return false
}

// IsCollection reports whether name is a known top-level collection.
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Empty returns a document with every collection initialized empty. Used for
// the idempotent first-connection create so no field is ever missing remotely.
func Empty() Document {
	return Document{
		Users:          []Person{},
		Tasks:          []Task{},
		Library:        []LibraryEntry{},
		Suppressions:   []string{},
		Completions:    []Completion{},
		Timers:         []Timer{},
		Devices:        []DeviceBinding{},
		SortOrders:     map[string][]string{},
		BlockOverrides: map[string]map[string]DayOverride{},
		Planned:        map[string]map[string]map[string][]string{},
	}
}

// Clone returns a deep copy of the document. The engine hands clones to
// callers so UI code can never mutate authoritative state in place.
func (d Document) Clone() Document {
	out := d
	out.Users = append([]Person(nil), d.Users...)
	out.Tasks = make([]Task, len(d.Tasks))
	for i, t := range d.Tasks {
		t.Days = append([]int(nil), t.Days...)
		t.Blocks = append([]string(nil), t.Blocks...)
		out.Tasks[i] = t
	}
	out.Library = make([]LibraryEntry, len(d.Library))
	for i, l := range d.Library {
		l.DefaultBlocks = append([]string(nil), l.DefaultBlocks...)
		out.Library[i] = l
	}
	out.Suppressions = append([]string(nil), d.Suppressions...)
	out.Completions = append([]Completion(nil), d.Completions...)
	out.Timers = append([]Timer(nil), d.Timers...)
	out.Devices = append([]DeviceBinding(nil), d.Devices...)

	out.SortOrders = make(map[string][]string, len(d.SortOrders))
	for k, v := range d.SortOrders {
		out.SortOrders[k] = append([]string(nil), v...)
	}
	out.BlockOverrides = make(map[string]map[string]DayOverride, len(d.BlockOverrides))
	for u, byDate := range d.BlockOverrides {
		m := make(map[string]DayOverride, len(byDate))
		for k, v := range byDate {
			m[k] = v
		}
		out.BlockOverrides[u] = m
	}
	out.Planned = make(map[string]map[string]map[string][]string, len(d.Planned))
	for u, byDay := range d.Planned {
		dm := make(map[string]map[string][]string, len(byDay))
		for day, byBlock := range byDay {
			bm := make(map[string][]string, len(byBlock))
			for b, ids := range byBlock {
				bm[b] = append([]string(nil), ids...)
			}
			dm[day] = bm
		}
		out.Planned[u] = dm
	}
	return out
}

// FindPerson returns the person with the given id, or nil.
func (d Document) FindPerson(id string) *Person {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return &d.Users[i]
		}
	}
	return nil
}

// FindDevice returns the binding with the given device id, or nil.
func (d Document) FindDevice(deviceID string) *DeviceBinding {
	for i := range d.Devices {
		if d.Devices[i].DeviceID == deviceID {
			return &d.Devices[i]
		}
	}
	return nil
}

// FirstByRole returns the first person with the given role, or nil.
func (d Document) FirstByRole(role string) *Person {
	for i := range d.Users {
		if d.Users[i].Role == role {
			return &d.Users[i]
		}
	}
	return nil
}
