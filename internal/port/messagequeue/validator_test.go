package messagequeue_test

import (
	"testing"

	"github.com/taskfabric/taskfabric/internal/port/messagequeue"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{
			name:    "valid task submitted",
			subject: messagequeue.SubjectTaskSubmitted,
			data:    `{"task_id":"t1","description":"do things","priority":1}`,
		},
		{
			name:    "valid task status",
			subject: messagequeue.SubjectTaskStatus,
			data:    `{"task_id":"t1","status":"executing","mode":"reviewed","attempts":0}`,
		},
		{
			name:    "valid approval resolved",
			subject: messagequeue.SubjectApprovalResolved,
			data:    `{"task_id":"t1","approved":true}`,
		},
		{
			name:    "invalid json",
			subject: messagequeue.SubjectTaskSubmitted,
			data:    `{not json`,
			wantErr: true,
		},
		{
			name:    "wrong field type",
			subject: messagequeue.SubjectTaskStatus,
			data:    `{"task_id":"t1","status":"executing","attempts":"three"}`,
			wantErr: true,
		},
		{
			name:    "unknown subject passes",
			subject: "tasks.future",
			data:    `{"anything":"goes"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := messagequeue.Validate(tt.subject, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%s) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
			}
		})
	}
}
