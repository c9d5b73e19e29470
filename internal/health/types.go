// Package health defines the record families the sync engine knows how to
// pull from the device health-data provider and the payload shapes it hands
// to the upload client.
package health

// RecordType identifies a family of health records
type RecordType string

const (
	// RecordTypeClinical represents clinical records (FHIR payloads)
	RecordTypeClinical RecordType = "clinicalRecord"
	// RecordTypeNumericSample represents numeric time-series samples
	RecordTypeNumericSample RecordType = "numericSample"
	// RecordTypeCategoricalSample represents categorical samples
	RecordTypeCategoricalSample RecordType = "categoricalSample"
	// RecordTypeWorkout represents workout sessions
	RecordTypeWorkout RecordType = "workout"
	// RecordTypeCharacteristic represents one-time profile characteristics
	RecordTypeCharacteristic RecordType = "characteristic"
)

// Provider type identifiers. These are the keys used when building provider
// queries and when keying anchors and failure windows.
const (
	TypeIDStepCount        = "stepCount"
	TypeIDHeartRate        = "heartRate"
	TypeIDRestingHeartRate = "restingHeartRate"
	TypeIDActiveEnergy     = "activeEnergyBurned"
	TypeIDDistance         = "distanceWalkingRunning"
	TypeIDBodyMass         = "bodyMass"
	TypeIDOxygenSaturation = "oxygenSaturation"

	TypeIDSleepAnalysis  = "sleepAnalysis"
	TypeIDMindfulSession = "mindfulSession"

	TypeIDWorkout = "workout"

	TypeIDAllergyRecord      = "allergyRecord"
	TypeIDConditionRecord    = "conditionRecord"
	TypeIDImmunizationRecord = "immunizationRecord"
	TypeIDLabResultRecord    = "labResultRecord"
	TypeIDMedicationRecord   = "medicationRecord"
	TypeIDProcedureRecord    = "procedureRecord"
	TypeIDVitalSignRecord    = "vitalSignRecord"

	TypeIDDateOfBirth   = "dateOfBirth"
	TypeIDBiologicalSex = "biologicalSex"
	TypeIDBloodType     = "bloodType"
	TypeIDWheelchairUse = "wheelchairUse"
)

// typeIdentifiers maps each record family to the ordered set of provider
// type identifiers requested for it.
var typeIdentifiers = map[RecordType][]string{
	RecordTypeNumericSample: {
		TypeIDStepCount,
		TypeIDHeartRate,
		TypeIDRestingHeartRate,
		TypeIDActiveEnergy,
		TypeIDDistance,
		TypeIDBodyMass,
		TypeIDOxygenSaturation,
	},
	RecordTypeCategoricalSample: {
		TypeIDSleepAnalysis,
		TypeIDMindfulSession,
	},
	RecordTypeWorkout: {
		TypeIDWorkout,
	},
	RecordTypeClinical: {
		TypeIDAllergyRecord,
		TypeIDConditionRecord,
		TypeIDImmunizationRecord,
		TypeIDLabResultRecord,
		TypeIDMedicationRecord,
		TypeIDProcedureRecord,
		TypeIDVitalSignRecord,
	},
	RecordTypeCharacteristic: {
		TypeIDDateOfBirth,
		TypeIDBiologicalSex,
		TypeIDBloodType,
		TypeIDWheelchairUse,
	},
}

var familyByTypeID = func() map[string]RecordType {
	m := make(map[string]RecordType)
	for rt, ids := range typeIdentifiers {
		for _, id := range ids {
			m[id] = rt
		}
	}
	return m
}()

// FamilyOf returns the record family that owns a provider type identifier
func FamilyOf(typeID string) (RecordType, bool) {
	rt, ok := familyByTypeID[typeID]
	return rt, ok
}

// TypeIdentifiers returns the ordered provider identifiers for a record type
func (rt RecordType) TypeIdentifiers() []string {
	ids := typeIdentifiers[rt]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Valid reports whether the record type is a known family
func (rt RecordType) Valid() bool {
	_, ok := typeIdentifiers[rt]
	return ok
}

// SyncOrder is the fixed priority order the orchestrator syncs record
// families in. Clinical records are synced separately with an unbounded
// window; characteristics are captured by the profile snapshot.
func SyncOrder() []RecordType {
	return []RecordType{
		RecordTypeWorkout,
		RecordTypeCategoricalSample,
		RecordTypeNumericSample,
	}
}

// FullWindow reports whether the record family is queried with the full
// requested window predicate rather than a strict start-date predicate.
// Workouts and clinical records can span or be amended outside the nominal
// window, so they always use the full-window predicate.
func (rt RecordType) FullWindow() bool {
	return rt == RecordTypeWorkout || rt == RecordTypeClinical
}
