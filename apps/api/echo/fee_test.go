package echoapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/shule/core/fee"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

func TestServer_feeAPI(t *testing.T) {
	env := newTestEnv(t, 100)
	defer env.recorder.Close()

	env.createUser(t, "Awe Media", "awe", "awe@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAdminOwner)
	env.createUser(t, "Count Carl", "countcarl", "carl@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAccountant)
	env.createUser(t, "Teacher Ted", "teacherted", "ted@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleTeacher)
	parent := env.createUser(t, "Parent Pat", "parentpat", "pat@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleParent)
	env.createUser(t, "Parent Sam", "parentsam", "sam@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleParent)

	adminToken := env.login(t, "awe")
	accountantToken := env.login(t, "countcarl")
	teacherToken := env.login(t, "teacherted")
	parentToken := env.login(t, "parentpat")
	otherParentToken := env.login(t, "parentsam")

	// enroll a student to bill
	res := env.request(t, http.MethodPost, env.host, "/v1/students", adminToken,
		student.NewStudent{Name: "Ada", AdmissionNo: "gh001", ClassName: "P1", GuardianID: parent.ID})
	checkStatus(t, res, http.StatusCreated)
	var ada student.Student
	decodeBody(t, res, &ada)

	due := time.Now().UTC().AddDate(0, 1, 0)
	var tuition fee.Fee

	t.Run("create", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/fees", accountantToken,
			fee.NewFee{StudentID: ada.ID, Description: "Term 1 tuition", AmountCents: 250000, Currency: "cdf", DueDate: due})
		checkStatus(t, res, http.StatusCreated)
		decodeBody(t, res, &tuition)
		if tuition.TenantID != env.tnt.ID || tuition.StudentID != ada.ID {
			t.Errorf("created = %+v, want bound to %s/%s", tuition, env.tnt.ID, ada.ID)
		}
		if tuition.Status != fee.StatusPending {
			t.Errorf("Status = %q, want %q", tuition.Status, fee.StatusPending)
		}

		// the fee must reference a known student
		res = env.request(t, http.MethodPost, env.host, "/v1/fees", accountantToken,
			fee.NewFee{StudentID: "lol", Description: "Term 1 tuition", AmountCents: 250000, Currency: "cdf", DueDate: due})
		checkStatus(t, res, http.StatusBadRequest)

		// billing is not a teacher concern
		res = env.request(t, http.MethodPost, env.host, "/v1/fees", teacherToken,
			fee.NewFee{StudentID: ada.ID, Description: "Lol", AmountCents: 1, Currency: "cdf", DueDate: due})
		checkStatus(t, res, http.StatusForbidden)
	})

	t.Run("query", func(t *testing.T) {
		res := env.request(t, http.MethodGet, env.host, "/v1/fees", accountantToken, nil)
		checkStatus(t, res, http.StatusOK)
		var fees []fee.Fee
		decodeBody(t, res, &fees)
		if len(fees) != 1 {
			t.Errorf("got %d fees, want 1", len(fees))
		}
	})

	t.Run("retrieve is ownership-scoped through the student", func(t *testing.T) {
		res := env.request(t, http.MethodGet, env.host, "/v1/fees/"+tuition.ID, parentToken, nil)
		checkStatus(t, res, http.StatusOK)

		res = env.request(t, http.MethodGet, env.host, "/v1/fees/"+tuition.ID, otherParentToken, nil)
		checkStatus(t, res, http.StatusForbidden)
	})

	t.Run("update records a payment", func(t *testing.T) {
		res := env.request(t, http.MethodPut, env.host, "/v1/fees/"+tuition.ID, accountantToken,
			fee.UpdateFee{Description: "Term 1 tuition", AmountCents: 250000, PaidCents: 100000, Status: fee.StatusPartial, DueDate: due})
		checkStatus(t, res, http.StatusOK)
		var updated fee.Fee
		decodeBody(t, res, &updated)
		if updated.PaidCents != 100000 || updated.Status != fee.StatusPartial {
			t.Errorf("updated = %+v", updated)
		}

		// overpayment is a data error
		res = env.request(t, http.MethodPut, env.host, "/v1/fees/"+tuition.ID, accountantToken,
			fee.UpdateFee{Description: "Term 1 tuition", AmountCents: 250000, PaidCents: 300000, Status: fee.StatusPaid, DueDate: due})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("delete", func(t *testing.T) {
		// accountants record payments but cannot remove billing records
		res := env.request(t, http.MethodDelete, env.host, "/v1/fees/"+tuition.ID, accountantToken, nil)
		checkStatus(t, res, http.StatusForbidden)

		res = env.request(t, http.MethodDelete, env.host, "/v1/fees/"+tuition.ID, adminToken, nil)
		checkStatus(t, res, http.StatusNoContent)

		res = env.request(t, http.MethodGet, env.host, "/v1/fees/"+tuition.ID, adminToken, nil)
		checkStatus(t, res, http.StatusNotFound)
	})
}
